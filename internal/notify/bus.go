package notify

import (
	"sync"
	"time"
)

// EventType enumerates the cross-component signals the engine emits.
type EventType int

const (
	// EventNoAttendance fires when a slot inside its query window has no
	// matching check-in record.
	EventNoAttendance EventType = iota

	// EventAuthRequired fires when any fetch path detects an invalid token.
	EventAuthRequired

	// EventBackendDown fires after the refresh retry budget is exhausted.
	EventBackendDown

	// EventWeeklyRefreshed fires after a successful weekly fetch.
	EventWeeklyRefreshed
)

func (t EventType) String() string {
	switch t {
	case EventNoAttendance:
		return "no_attendance"
	case EventAuthRequired:
		return "auth_required"
	case EventBackendDown:
		return "backend_down"
	case EventWeeklyRefreshed:
		return "weekly_refreshed"
	default:
		return "unknown"
	}
}

// Event is one bus message.
type Event struct {
	Type   EventType
	Key    string // slot key for per-slot events
	Date   string
	Detail string
	At     time.Time
}

// Bus is a simple fan-out channel bus. Publish never blocks: a subscriber
// that stops draining loses events rather than stalling the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel func removes the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 16)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
