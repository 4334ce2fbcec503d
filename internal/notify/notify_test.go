package notify

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAlertAssignsID(t *testing.T) {
	a := NewAlert("k", "title", "body")
	b := NewAlert("k", "title", "body")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestLogNotifierDedup(t *testing.T) {
	n := NewLogNotifier(zerolog.Nop(), time.Hour)
	base := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return base }

	n.Notify(NewAlert("auth", "t", "b"))
	// Same key inside the window is suppressed; seen timestamp unchanged.
	n.Notify(NewAlert("auth", "t", "b"))
	assert.Equal(t, base, n.seen["auth"])

	// Past the window it fires again.
	later := base.Add(2 * time.Hour)
	n.now = func() time.Time { return later }
	n.Notify(NewAlert("auth", "t", "b"))
	assert.Equal(t, later, n.seen["auth"])
}

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(Event{Type: EventNoAttendance, Key: "2024-03-04 08:00:00"})

	ev1 := <-ch1
	ev2 := <-ch2
	assert.Equal(t, EventNoAttendance, ev1.Type)
	assert.Equal(t, ev1.Key, ev2.Key)
	assert.False(t, ev1.At.IsZero())

	cancel1()
	_, open := <-ch1
	assert.False(t, open)

	// Publishing after one subscriber left still reaches the other.
	b.Publish(Event{Type: EventAuthRequired})
	ev := <-ch2
	require.Equal(t, EventAuthRequired, ev.Type)
}

func TestBusPublishNeverBlocks(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	// Overfill the subscriber buffer; Publish must not stall.
	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: EventWeeklyRefreshed})
	}
	assert.Len(t, ch, 16)
}
