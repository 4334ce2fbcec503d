// Package notify carries user-visible alerts and cross-component events.
// Alerts are fire-and-forget; the default sink logs them. The event bus
// replaces the original broadcast mechanism with explicit channel
// subscriptions.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Alert is one user-facing notification. DedupKey suppresses repeats of the
// same condition within the sink's dedup window.
type Alert struct {
	ID       string
	DedupKey string
	Title    string
	Body     string
}

// NewAlert builds an Alert with a fresh ID.
func NewAlert(dedupKey, title, body string) Alert {
	return Alert{
		ID:       uuid.NewString(),
		DedupKey: dedupKey,
		Title:    title,
		Body:     body,
	}
}

// Notifier delivers alerts to the user. Implementations must not block.
type Notifier interface {
	Notify(Alert)
}

// LogNotifier writes alerts to the log, suppressing duplicate dedup keys
// within the configured window.
type LogNotifier struct {
	log    zerolog.Logger
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewLogNotifier returns a LogNotifier with the given dedup window.
// A window of zero disables deduplication.
func NewLogNotifier(log zerolog.Logger, window time.Duration) *LogNotifier {
	return &LogNotifier{
		log:    log,
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(a Alert) {
	if n.window > 0 && a.DedupKey != "" {
		n.mu.Lock()
		last, ok := n.seen[a.DedupKey]
		now := n.now()
		if ok && now.Sub(last) < n.window {
			n.mu.Unlock()
			n.log.Debug().Str("dedup_key", a.DedupKey).Msg("alert suppressed")
			return
		}
		n.seen[a.DedupKey] = now
		n.mu.Unlock()
	}
	n.log.Warn().
		Str("alert_id", a.ID).
		Str("dedup_key", a.DedupKey).
		Str("title", a.Title).
		Msg(a.Body)
}
