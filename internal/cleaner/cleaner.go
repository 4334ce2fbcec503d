// Package cleaner turns the raw weekly schedule into the cleaned timeslot
// map the matcher consumes: entries grouped by concrete local start time
// ("2024-03-04 08:00:00"), with several sections sharing a key when they
// share date and start. Weekday numbers are resolved against the Monday of
// the current week and period numbers against the embedded period table.
package cleaner

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cachestore"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/errclass"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/feed"
)

const dateLayout = "2006-01-02"

// KeyLayout parses the time component of cleaned map keys.
const KeyLayout = "2006-01-02 15:04:05"

var weekdayLabels = [8]string{"", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Timeslot is one cleaned class entry. Eqno mirrors the location and
// Watertime carries the expected check-in instant, both set at clean time;
// Checkin starts empty and is filled by the matcher once a check-in record
// is attributed.
type Timeslot struct {
	Weekday     string `json:"weekday"`
	Location    string `json:"location"`
	Eqno        string `json:"eqno,omitempty"`
	SubjectName string `json:"subjectSName"`
	TimeDisplay string `json:"time_display,omitempty"`
	Watertime   string `json:"watertime,omitempty"`
	Checkin     string `json:"checkin,omitempty"`
}

// Normalizer derives the cleaned timeslot map from the cached weekly
// schedule and persists it.
type Normalizer struct {
	store   *cachestore.Store
	periods *PeriodTable
	log     zerolog.Logger
	now     func() time.Time
	demo    bool
}

// Option configures a Normalizer during construction.
type Option func(*Normalizer)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithDemoFallback serves the embedded sample schedule when no weekly
// cache exists yet.
func WithDemoFallback(enabled bool) Option {
	return func(n *Normalizer) { n.demo = enabled }
}

// New constructs a Normalizer.
func New(store *cachestore.Store, periods *PeriodTable, log zerolog.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{store: store, periods: periods, log: log, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// GenerateCleaned reads the cached weekly schedule, builds the timeslot
// map anchored on this week's Monday, persists it and returns it. Records
// sharing date and start time append to the same key's list. The output is
// deterministic for a given input and clock week, so repeated runs rewrite
// an identical file.
func (n *Normalizer) GenerateCleaned() (map[string][]Timeslot, error) {
	raw, err := n.weeklySource()
	if err != nil {
		return nil, err
	}

	var resp feed.WeeklyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errclass.New(errclass.ParseError, errors.Wrap(err, "cleaner: decode weekly schedule"))
	}

	monday := weekMonday(n.now())
	slots := make(map[string][]Timeslot, len(resp.Data))
	for _, rec := range resp.Data {
		wd := parseWeekday(rec.AccountWeeknum)
		if wd < 1 || wd > 7 {
			n.log.Warn().Str("weeknum", rec.AccountWeeknum).Str("subject", rec.SubjectSName).
				Msg("skipping record with unusable weekday")
			continue
		}

		date := monday.AddDate(0, 0, wd-1).Format(dateLayout)
		loc := buildLocation(rec.BuildName, rec.RoomRoomnum)
		slot := Timeslot{
			Weekday:     weekdayLabels[wd],
			Location:    loc,
			Eqno:        loc,
			SubjectName: rec.SubjectSName,
		}

		startFull, display, ok := n.periods.Resolve(rec.AccountJtNo)
		if !ok {
			// Keep the record under the raw slot string so the schedule
			// stays complete; the time component is not parseable and
			// downstream consumers skip such keys. The expected check-in
			// time is still recovered from leading digits when possible.
			if s, found := n.periods.StartByLeadingNumber(rec.AccountJtNo); found {
				slot.Watertime = date + " " + s
			}
			key := date + " " + strings.TrimSpace(rec.AccountJtNo)
			slots[key] = append(slots[key], slot)
			n.log.Warn().Str("slot", rec.AccountJtNo).Str("subject", rec.SubjectSName).
				Msg("period slot not in lookup table")
			continue
		}

		slot.TimeDisplay = display
		slot.Watertime = date + " " + startFull
		key := date + " " + startFull
		slots[key] = append(slots[key], slot)
	}

	if err := SaveCleaned(n.store, slots); err != nil {
		return nil, errclass.New(errclass.CacheWrite, errors.Wrap(err, "cleaner: persist cleaned schedule"))
	}
	n.log.Info().Int("slots", len(slots)).Str("week_of", monday.Format(dateLayout)).
		Msg("cleaned schedule generated")
	return slots, nil
}

// weeklySource returns the cached weekly bytes, or the embedded sample
// when demo fallback is on and nothing has been fetched yet.
func (n *Normalizer) weeklySource() ([]byte, error) {
	if raw, ok := n.store.Read(cachestore.WeeklyKey); ok {
		return raw, nil
	}
	if n.demo {
		n.log.Warn().Msg("no weekly schedule cached, serving embedded sample")
		return demoWeekly, nil
	}
	return nil, errors.New("cleaner: no weekly schedule cached, refresh first")
}

// LoadCleaned reads the persisted timeslot map. ok is false when the file
// is missing or unreadable.
func LoadCleaned(store *cachestore.Store) (map[string][]Timeslot, bool) {
	raw, ok := store.Read(cachestore.WeeklyCleanedKey)
	if !ok {
		return nil, false
	}
	var slots map[string][]Timeslot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, false
	}
	return slots, true
}

// SaveCleaned persists the timeslot map. Map keys marshal in sorted order,
// so equal maps produce identical bytes.
func SaveCleaned(store *cachestore.Store, slots map[string][]Timeslot) error {
	out, err := json.MarshalIndent(slots, "", "  ")
	if err != nil {
		return err
	}
	return store.Write(cachestore.WeeklyCleanedKey, out)
}

// ParseKeyTime extracts the start instant from a cleaned key. ok is false
// for placeholder keys whose time component is not a clock time. A bare
// HH:MM component gets ":00" appended before parsing.
func ParseKeyTime(key string) (time.Time, bool) {
	parts := strings.SplitN(key, " ", 2)
	if len(parts) != 2 {
		return time.Time{}, false
	}
	tp := parts[1]
	if strings.Count(tp, ":") == 1 {
		tp += ":00"
	}
	t, err := time.ParseInLocation(KeyLayout, parts[0]+" "+tp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// buildLocation joins building and room when both are present, keeps
// whichever exists otherwise, and stays empty when neither does.
func buildLocation(build, room string) string {
	build = strings.TrimSpace(build)
	room = strings.TrimSpace(room)
	switch {
	case build != "" && room != "":
		return build + "-" + room
	case build != "":
		return build
	default:
		return room
	}
}

// parseWeekday normalizes the backend's weekday number. Zero means Sunday
// and maps to 7; anything non-numeric comes back as -1.
func parseWeekday(s string) int {
	wd, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return -1
	}
	if wd == 0 {
		wd = 7
	}
	return wd
}

// weekMonday returns midnight on the Monday of t's week, Monday-first.
func weekMonday(t time.Time) time.Time {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	t = t.AddDate(0, 0, 1-wd)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
