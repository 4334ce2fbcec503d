// Package matcher attributes check-in records to cleaned timeslots. A pass
// walks the cleaned schedule, queries the water list for slots inside the
// check window, and either marks the slot attended or raises the missing
// attendance alert.
package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cachestore"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cleaner"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/errclass"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/feed"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/notify"
)

const (
	// Check window around a slot start, in truncated whole minutes of
	// start minus now: a slot is due from ten minutes before its start
	// until five minutes after.
	windowAheadMinutes = 10
	windowPastMinutes  = 5

	waterListPageSize = 10
	dateLayout        = "2006-01-02"
)

// WaterFetcher is the slice of the feed client the matcher needs.
type WaterFetcher interface {
	FetchWaterList(ctx context.Context, date string, pageSize, page int) (*feed.WaterListEnvelope, error)
}

// CredentialStore lets the matcher invalidate a rejected token.
type CredentialStore interface {
	Clear() error
	NotifyInvalid()
}

// Matcher runs attendance-check passes over the cleaned schedule.
type Matcher struct {
	store    *cachestore.Store
	feed     WaterFetcher
	tokens   CredentialStore
	notifier notify.Notifier
	bus      *notify.Bus
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures a Matcher during construction.
type Option func(*Matcher)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

// New constructs a Matcher.
func New(store *cachestore.Store, fetcher WaterFetcher, tokens CredentialStore, notifier notify.Notifier, bus *notify.Bus, log zerolog.Logger, opts ...Option) *Matcher {
	m := &Matcher{
		store:    store,
		feed:     fetcher,
		tokens:   tokens,
		notifier: notifier,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunPass examines every cleaned timeslot once. Slots outside today or the
// check window are skipped, as are slots already attributed. An auth
// rejection aborts the pass after clearing the token exactly once; every
// other per-slot failure is logged and the pass continues.
func (m *Matcher) RunPass(ctx context.Context) error {
	slots, ok := cleaner.LoadCleaned(m.store)
	if !ok {
		m.log.Debug().Msg("no cleaned schedule, nothing to match")
		return nil
	}

	now := m.now()
	changed := false
	defer func() {
		if changed {
			if err := cleaner.SaveCleaned(m.store, slots); err != nil {
				m.log.Error().Err(err).Msg("failed to persist attributed slots")
			}
		}
	}()

	for key, entries := range slots {
		start, ok := cleaner.ParseKeyTime(key)
		if !ok {
			continue // placeholder entry without a clock time
		}
		if !sameDay(start, now) {
			continue
		}
		diff := diffMinutes(start, now)
		if diff < -windowPastMinutes || diff > windowAheadMinutes {
			continue
		}
		if allAttributed(entries) {
			continue
		}

		date := start.Format(dateLayout)
		env, err := m.feed.FetchWaterList(ctx, date, waterListPageSize, 1)
		if err != nil {
			m.appendLog(key, date, now, false, "", err)
			if errclass.IsAuthRequired(err) {
				// Every remaining slot would fail the same way; clear the
				// token once and stop the pass.
				if cerr := m.tokens.Clear(); cerr != nil {
					m.log.Error().Err(cerr).Msg("failed to clear rejected token")
				}
				m.tokens.NotifyInvalid()
				slotOutcomes.WithLabelValues(outcomeAuthAbort).Inc()
				return err
			}
			m.log.Warn().Err(err).Str("slot", key).Msg("water list query failed")
			slotOutcomes.WithLabelValues(outcomeQueryError).Inc()
			continue
		}

		var data feed.WaterListData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			m.appendLog(key, date, now, false, "", fmt.Errorf("decode water list: %w", err))
			slotOutcomes.WithLabelValues(outcomeQueryError).Inc()
			continue
		}

		for i := range entries {
			slot := entries[i]
			if slot.Checkin != "" {
				continue // already attributed
			}

			rec, found := findMatch(start, slot.Location, data.List)
			if !found {
				m.notifyMissing(key, slot, date, now)
				m.appendLog(key, date, now, false, "no_attendance", nil)
				slotOutcomes.WithLabelValues(outcomeNoAttendance).Inc()
				continue
			}

			ts := recordTime(rec)
			entries[i].Checkin = ts
			if rec.Eqno != "" {
				entries[i].Eqno = rec.Eqno
			}
			changed = true
			slotOutcomes.WithLabelValues(outcomeMatched).Inc()
			m.appendLog(key, date, now, true, fmt.Sprintf("matched %s at %s", rec.Eqno, ts), nil)
			m.log.Info().Str("slot", key).Str("subject", slot.SubjectName).
				Str("eqno", rec.Eqno).Str("at", ts).Msg("attendance attributed")
		}
	}

	passTotal.Inc()
	return nil
}

// allAttributed reports whether every entry under a key already carries a
// check-in record.
func allAttributed(entries []cleaner.Timeslot) bool {
	for _, slot := range entries {
		if slot.Checkin == "" {
			return false
		}
	}
	return true
}

func (m *Matcher) notifyMissing(key string, slot cleaner.Timeslot, date string, now time.Time) {
	if m.notifier != nil {
		m.notifier.Notify(notify.NewAlert(
			"no-attendance-"+key,
			"No check-in recorded",
			fmt.Sprintf("%s at %s (%s) has no check-in record yet.", slot.SubjectName, slot.Location, key),
		))
	}
	if m.bus != nil {
		m.bus.Publish(notify.Event{
			Type:   notify.EventNoAttendance,
			Key:    key,
			Date:   date,
			Detail: slot.SubjectName,
			At:     now,
		})
	}
}

func (m *Matcher) appendLog(key, date string, now time.Time, success bool, detail string, cause error) {
	rec := QueryLogRecord{
		Key:       key,
		Date:      date,
		QueriedAt: now.Format(cleaner.KeyLayout),
		Success:   success,
		Detail:    detail,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := appendQueryLog(m.store, rec); err != nil {
		m.log.Warn().Err(err).Msg("failed to append query log")
	}
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
