package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cachestore"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cleaner"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/errclass"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/feed"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/notify"
)

type stubFetcher struct {
	mu      sync.Mutex
	calls   int
	records []feed.WaterRecord
	err     error
}

func (f *stubFetcher) FetchWaterList(ctx context.Context, date string, pageSize, page int) (*feed.WaterListEnvelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	data, err := json.Marshal(feed.WaterListData{List: f.records, Total: len(f.records)})
	if err != nil {
		return nil, err
	}
	return &feed.WaterListEnvelope{Code: 0, Data: data}, nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stubCredentials struct {
	mu       sync.Mutex
	cleared  int
	notified int
}

func (s *stubCredentials) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
	return nil
}

func (s *stubCredentials) NotifyInvalid() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified++
}

type capturingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (n *capturingNotifier) Notify(a notify.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

func (n *capturingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func fixedClock(s string) func() time.Time {
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.Local)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return ts }
}

func newStore(t *testing.T) *cachestore.Store {
	t.Helper()
	store, err := cachestore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return store
}

func seedSlots(t *testing.T, store *cachestore.Store, key string, entries ...cleaner.Timeslot) {
	t.Helper()
	slots, _ := cleaner.LoadCleaned(store)
	if slots == nil {
		slots = map[string][]cleaner.Timeslot{}
	}
	slots[key] = append(slots[key], entries...)
	require.NoError(t, cleaner.SaveCleaned(store, slots))
}

func TestRunPassAttributesMatchingRecord(t *testing.T) {
	store := newStore(t)
	seedSlots(t, store, "2024-03-04 08:00:00", cleaner.Timeslot{
		Weekday: "Monday", Location: "教2-101", SubjectName: "高等数学", Watertime: "2024-03-04 08:00:00",
	})

	fetcher := &stubFetcher{records: []feed.WaterRecord{
		{Eqno: "北门-闸机", Intime: "2024-03-04 07:30:00"},
		{Eqno: "教2-101-门禁", Intime: "2024-03-04 08:02:10"},
	}}
	creds := &stubCredentials{}
	m := New(store, fetcher, creds, nil, nil, zerolog.Nop(), WithClock(fixedClock("2024-03-04 08:03:00")))

	require.NoError(t, m.RunPass(context.Background()))

	slots, ok := cleaner.LoadCleaned(store)
	require.True(t, ok)
	require.Len(t, slots["2024-03-04 08:00:00"], 1)
	got := slots["2024-03-04 08:00:00"][0]
	assert.Equal(t, "教2-101-门禁", got.Eqno)
	assert.Equal(t, "2024-03-04 08:02:10", got.Checkin)
	assert.Equal(t, "2024-03-04 08:00:00", got.Watertime, "expected time stays as cleaned")

	log := LoadQueryLog(store)
	require.Len(t, log, 1)
	assert.True(t, log[0].Success)
	assert.Equal(t, "2024-03-04 08:00:00", log[0].Key)
}

func TestRunPassWindowBoundaries(t *testing.T) {
	// The window runs from ten minutes before the start to five after,
	// in whole minutes of start minus now truncated toward zero.
	cases := []struct {
		now     string
		queried bool
	}{
		{"2024-03-04 07:49:00", false},
		{"2024-03-04 07:50:00", true},
		{"2024-03-04 08:05:59", true}, // -5m59s truncates to -5
		{"2024-03-04 08:06:00", false},
	}
	for _, tc := range cases {
		t.Run(tc.now, func(t *testing.T) {
			store := newStore(t)
			seedSlots(t, store, "2024-03-04 08:00:00", cleaner.Timeslot{Location: "教2-101"})
			fetcher := &stubFetcher{}
			m := New(store, fetcher, &stubCredentials{}, nil, nil, zerolog.Nop(), WithClock(fixedClock(tc.now)))

			require.NoError(t, m.RunPass(context.Background()))
			if tc.queried {
				assert.Equal(t, 1, fetcher.callCount())
			} else {
				assert.Equal(t, 0, fetcher.callCount())
			}
		})
	}
}

func TestRunPassSharedSlotAttributesEachSection(t *testing.T) {
	store := newStore(t)
	// Two sections share the date and start time; one fetch serves both.
	seedSlots(t, store, "2024-03-04 08:00:00",
		cleaner.Timeslot{Location: "教2-101", SubjectName: "高等数学"},
		cleaner.Timeslot{Location: "教1-205", SubjectName: "大学英语"},
	)

	fetcher := &stubFetcher{records: []feed.WaterRecord{
		{Eqno: "教2-101-门禁", Intime: "2024-03-04 08:02:10"},
		{Eqno: "教1-205-门禁", Intime: "2024-03-04 08:01:30"},
	}}
	m := New(store, fetcher, &stubCredentials{}, nil, nil, zerolog.Nop(), WithClock(fixedClock("2024-03-04 08:03:00")))

	require.NoError(t, m.RunPass(context.Background()))
	assert.Equal(t, 1, fetcher.callCount())

	slots, ok := cleaner.LoadCleaned(store)
	require.True(t, ok)
	entries := slots["2024-03-04 08:00:00"]
	require.Len(t, entries, 2)
	assert.Equal(t, "2024-03-04 08:02:10", entries[0].Checkin)
	assert.Equal(t, "2024-03-04 08:01:30", entries[1].Checkin)
}

func TestRunPassAuthRejectionShortCircuits(t *testing.T) {
	store := newStore(t)
	// Two due slots at the same time; only one query should go out.
	seedSlots(t, store, "2024-03-04 08:00:00", cleaner.Timeslot{Location: "教2-101", SubjectName: "高等数学"})
	seedSlots(t, store, "2024-03-04 07:58:00", cleaner.Timeslot{Location: "教1-205", SubjectName: "大学英语"})

	fetcher := &stubFetcher{err: errclass.New(errclass.AuthRequired, errors.New("token rejected"))}
	creds := &stubCredentials{}
	alerts := &capturingNotifier{}
	m := New(store, fetcher, creds, alerts, nil, zerolog.Nop(), WithClock(fixedClock("2024-03-04 08:01:00")))

	err := m.RunPass(context.Background())
	require.Error(t, err)
	assert.True(t, errclass.IsAuthRequired(err))

	assert.Equal(t, 1, fetcher.callCount(), "pass must stop after the first rejection")
	assert.Equal(t, 1, creds.cleared)
	assert.Equal(t, 1, creds.notified)
	assert.Equal(t, 0, alerts.count(), "no missing-attendance alert on auth failure")
}

func TestRunPassMissingAttendance(t *testing.T) {
	store := newStore(t)
	seedSlots(t, store, "2024-03-04 08:00:00", cleaner.Timeslot{Location: "教2-101", SubjectName: "高等数学"})

	bus := notify.NewBus()
	events, cancel := bus.Subscribe()
	defer cancel()

	fetcher := &stubFetcher{} // empty water list
	alerts := &capturingNotifier{}
	m := New(store, fetcher, &stubCredentials{}, alerts, bus, zerolog.Nop(), WithClock(fixedClock("2024-03-04 08:03:00")))

	require.NoError(t, m.RunPass(context.Background()))

	require.Equal(t, 1, alerts.count())
	assert.Contains(t, alerts.alerts[0].Body, "高等数学")

	select {
	case ev := <-events:
		assert.Equal(t, notify.EventNoAttendance, ev.Type)
		assert.Equal(t, "2024-03-04 08:00:00", ev.Key)
	default:
		t.Fatal("expected a no-attendance event")
	}

	log := LoadQueryLog(store)
	require.Len(t, log, 1)
	assert.False(t, log[0].Success)
	assert.Equal(t, "no_attendance", log[0].Detail)
}

func TestRunPassSkipsInertSlots(t *testing.T) {
	store := newStore(t)
	seedSlots(t, store, "2024-03-02 实验", cleaner.Timeslot{Location: "实验楼-B1"})
	seedSlots(t, store, "2024-03-05 08:00:00", cleaner.Timeslot{Location: "教2-101"}) // different day
	seedSlots(t, store, "2024-03-04 08:00:00", cleaner.Timeslot{Location: "教2-101", Checkin: "2024-03-04 08:01:00"})

	fetcher := &stubFetcher{}
	m := New(store, fetcher, &stubCredentials{}, nil, nil, zerolog.Nop(), WithClock(fixedClock("2024-03-04 08:03:00")))

	require.NoError(t, m.RunPass(context.Background()))
	assert.Equal(t, 0, fetcher.callCount())
}

func TestIsMatch(t *testing.T) {
	start, err := time.ParseInLocation(cleaner.KeyLayout, "2024-03-04 08:00:00", time.Local)
	require.NoError(t, err)

	cases := []struct {
		name string
		rec  feed.WaterRecord
		want bool
	}{
		{"device name contains room", feed.WaterRecord{Eqno: "教2-101-门禁", Intime: "2024-03-04 08:03:00"}, true},
		{"room contains device name", feed.WaterRecord{Eqno: "教2-101", Intime: "2024-03-04 08:03:00"}, true},
		{"nbsp and case ignored", feed.WaterRecord{Eqno: " 教2-101 A ", Intime: "2024-03-04 08:03:00"}, true},
		{"no device name, time suffices", feed.WaterRecord{Intime: "2024-03-04 08:03:00"}, true},
		{"fifteen minutes early", feed.WaterRecord{Eqno: "教2-101", Intime: "2024-03-04 07:45:00"}, true},
		{"too early", feed.WaterRecord{Eqno: "教2-101", Intime: "2024-03-04 07:44:00"}, false},
		{"too late", feed.WaterRecord{Eqno: "教2-101", Intime: "2024-03-04 08:16:00"}, false},
		{"wrong building", feed.WaterRecord{Eqno: "教1-205", Intime: "2024-03-04 08:03:00"}, false},
		{"watertime fallback", feed.WaterRecord{Eqno: "教2-101", Watertime: "2024-03-04 08:05:00"}, true},
		{"no timestamp", feed.WaterRecord{Eqno: "教2-101"}, false},
		{"garbage timestamp", feed.WaterRecord{Eqno: "教2-101", Intime: "soon"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isMatch(start, "教2-101", tc.rec))
		})
	}
}

func TestIsMatchWithoutExpectedLocation(t *testing.T) {
	start, err := time.ParseInLocation(cleaner.KeyLayout, "2024-03-04 08:00:00", time.Local)
	require.NoError(t, err)
	// Slots cleaned without building and room match on time alone.
	assert.True(t, isMatch(start, "", feed.WaterRecord{Eqno: "西门-闸机", Intime: "2024-03-04 08:03:00"}))
	assert.False(t, isMatch(start, "", feed.WaterRecord{Eqno: "西门-闸机", Intime: "2024-03-04 08:16:00"}))
}

func TestRunPassMatchesWithoutExpectedLocation(t *testing.T) {
	store := newStore(t)
	seedSlots(t, store, "2024-03-04 08:00:00", cleaner.Timeslot{SubjectName: "体育"})

	fetcher := &stubFetcher{records: []feed.WaterRecord{
		{Eqno: "操场-东门", Intime: "2024-03-04 07:56:40"},
	}}
	m := New(store, fetcher, &stubCredentials{}, nil, nil, zerolog.Nop(), WithClock(fixedClock("2024-03-04 08:00:00")))

	require.NoError(t, m.RunPass(context.Background()))

	slots, ok := cleaner.LoadCleaned(store)
	require.True(t, ok)
	require.Len(t, slots["2024-03-04 08:00:00"], 1)
	assert.Equal(t, "2024-03-04 07:56:40", slots["2024-03-04 08:00:00"][0].Checkin)
}

func TestIsMatchWrongRoomVariant(t *testing.T) {
	start, err := time.ParseInLocation(cleaner.KeyLayout, "2024-03-04 08:00:00", time.Local)
	require.NoError(t, err)
	// Substring containment runs both ways, so a room that extends the
	// scheduled one still matches. A genuinely different room must not.
	assert.False(t, isMatch(start, "教2-101", feed.WaterRecord{Eqno: "教2-102-门禁", Intime: "2024-03-04 08:03:00"}))
	assert.True(t, isMatch(start, "教2-101", feed.WaterRecord{Eqno: "教2-1011", Intime: "2024-03-04 08:03:00"}))
}

func TestQueryLogCap(t *testing.T) {
	store := newStore(t)
	for i := 0; i < queryLogCap+5; i++ {
		require.NoError(t, appendQueryLog(store, QueryLogRecord{Key: fmt.Sprintf("k%d", i)}))
	}
	log := LoadQueryLog(store)
	require.Len(t, log, queryLogCap)
	assert.Equal(t, "k5", log[0].Key, "oldest entries are dropped first")
	assert.Equal(t, fmt.Sprintf("k%d", queryLogCap+4), log[len(log)-1].Key)
}

func TestDetailTruncation(t *testing.T) {
	store := newStore(t)
	long := make([]byte, detailCap*2)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, appendQueryLog(store, QueryLogRecord{Key: "k", Detail: string(long)}))
	log := LoadQueryLog(store)
	require.Len(t, log, 1)
	assert.Len(t, log[0].Detail, detailCap)
}
