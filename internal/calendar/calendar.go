// Package calendar exports the cleaned schedule as calendar events so class
// check-in windows can be mirrored into an external agenda. Every event
// carries an "ID:<uuid>" marker in its location text; the writer looks that
// marker up before inserting, so repeated exports never duplicate.
package calendar

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cachestore"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cleaner"
)

// eventNamespace seeds the deterministic event IDs.
var eventNamespace = uuid.MustParse("8b9e2b1e-4f4e-4a5d-9b6a-2f1c3d4e5f60")

// slotDuration is the fallback event length when a slot has no display
// range to take the end time from.
const slotDuration = 50 * time.Minute

// idMarker prefixes the dedup marker embedded in event locations.
const idMarker = "ID:"

// Event is one exported calendar entry. Location ends with the "ID:<uuid>"
// dedup marker.
type Event struct {
	ID       string
	Title    string
	Location string
	Start    time.Time
	End      time.Time
	Attended bool
}

// Sink receives exported events. Implementations decide how to store them;
// FindExistingEvent keys off the "ID:<uuid>" marker in the location text.
type Sink interface {
	FindExistingEvent(id string) (Event, bool, error)
	InsertEvent(ev Event) error
}

// MemorySink collects events in memory. Useful for tests and for rendering
// the export without an external calendar.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// FindExistingEvent implements Sink by scanning locations for the marker.
func (s *MemorySink) FindExistingEvent(id string) (Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if strings.Contains(ev.Location, idMarker+id) {
			return ev, true, nil
		}
	}
	return Event{}, false, nil
}

// InsertEvent implements Sink.
func (s *MemorySink) InsertEvent(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns the collected events sorted by start time.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Writer exports the persisted cleaned schedule into a Sink.
type Writer struct {
	store *cachestore.Store
	sink  Sink
	log   zerolog.Logger
}

// NewWriter constructs a Writer.
func NewWriter(store *cachestore.Store, sink Sink, log zerolog.Logger) *Writer {
	return &Writer{store: store, sink: sink, log: log}
}

// Export converts every timeslot with a parseable start into an event and
// inserts the ones the sink does not hold yet. Placeholder entries without
// a clock time are skipped. Returns the number of events inserted.
func (w *Writer) Export() (int, error) {
	slots, ok := cleaner.LoadCleaned(w.store)
	if !ok {
		return 0, nil
	}

	written := 0
	for key, entries := range slots {
		start, ok := cleaner.ParseKeyTime(key)
		if !ok {
			continue
		}
		for i, slot := range entries {
			id := EventID(key, i)
			if _, found, err := w.sink.FindExistingEvent(id); err != nil {
				return written, err
			} else if found {
				continue
			}
			loc := idMarker + id
			if slot.Location != "" {
				loc = slot.Location + " " + loc
			}
			ev := Event{
				ID:       id,
				Title:    slot.SubjectName,
				Location: loc,
				Start:    start,
				End:      eventEnd(start, slot.TimeDisplay),
				Attended: slot.Checkin != "",
			}
			if err := w.sink.InsertEvent(ev); err != nil {
				return written, err
			}
			written++
		}
	}
	w.log.Info().Int("events", written).Msg("schedule exported")
	return written, nil
}

// eventEnd takes the end from a "HH:MM-HH:MM" display range on the start's
// date, falling back to a fixed period length.
func eventEnd(start time.Time, display string) time.Time {
	if _, after, ok := strings.Cut(display, "-"); ok {
		if t, err := time.ParseInLocation("15:04", after, time.Local); err == nil {
			end := time.Date(start.Year(), start.Month(), start.Day(),
				t.Hour(), t.Minute(), 0, 0, start.Location())
			if end.After(start) {
				return end
			}
		}
	}
	return start.Add(slotDuration)
}

// EventID derives the stable event ID for one entry under a slot key.
func EventID(key string, index int) string {
	return uuid.NewSHA1(eventNamespace, []byte(key+"#"+strconv.Itoa(index))).String()
}
