// Package refresh decides when the weekly schedule must be re-fetched and
// drives the retry ladder when the backend is unreachable. A valid cache is
// served as-is; a failed fetch schedules another attempt after the
// configured delay until the attempt budget runs out.
package refresh

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cachestore"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cleaner"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/config"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/errclass"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/feed"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/notify"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/schedqueue"
)

// SchedKey serialises refresh work on one scheduler shard.
const SchedKey = "refresh"

// BackendAlertDedupKey identifies the backend-unreachable alert.
const BackendAlertDedupKey = "backend-down"

// Outcome is the result of one refresh decision.
type Outcome int

const (
	// OutcomeServedCache means the cached weekly schedule was still valid.
	OutcomeServedCache Outcome = iota

	// OutcomeRefreshed means a fresh schedule was fetched and cleaned.
	OutcomeRefreshed

	// OutcomeAuthRequired means the backend rejected the token; no retry
	// can help until the user logs in again.
	OutcomeAuthRequired

	// OutcomeRetryScheduled means the fetch failed but another attempt has
	// been queued.
	OutcomeRetryScheduled

	// OutcomeExhausted means every attempt in the budget failed.
	OutcomeExhausted

	// OutcomeInFlight means another refresh was already running.
	OutcomeInFlight
)

func (o Outcome) String() string {
	switch o {
	case OutcomeServedCache:
		return "served_cache"
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeAuthRequired:
		return "auth_required"
	case OutcomeRetryScheduled:
		return "retry_scheduled"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// WeeklyFetcher is the slice of the feed client the orchestrator needs.
type WeeklyFetcher interface {
	FetchWeekly(ctx context.Context) (*feed.WeeklyResponse, error)
}

// Normalizer regenerates the cleaned schedule after a fetch.
type Normalizer interface {
	GenerateCleaned() (map[string][]cleaner.Timeslot, error)
}

// Orchestrator owns the refresh pipeline. At most one refresh runs at a
// time; concurrent callers get OutcomeInFlight instead of a second fetch.
type Orchestrator struct {
	store      *cachestore.Store
	feed       WeeklyFetcher
	normalizer Normalizer
	sched      *schedqueue.Scheduler
	notifier   notify.Notifier
	bus        *notify.Bus
	log        zerolog.Logger
	now        func() time.Time

	retryDelay  time.Duration
	maxAttempts int

	inFlight uint32
}

// Option configures an Orchestrator during construction.
type Option func(*Orchestrator)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New constructs an Orchestrator.
func New(cfg *config.Config, store *cachestore.Store, fetcher WeeklyFetcher, normalizer Normalizer, sched *schedqueue.Scheduler, notifier notify.Notifier, bus *notify.Bus, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		feed:        fetcher,
		normalizer:  normalizer,
		sched:       sched,
		notifier:    notifier,
		bus:         bus,
		log:         log,
		now:         time.Now,
		retryDelay:  cfg.RetryDelay,
		maxAttempts: cfg.MaxAttempts,
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = 3
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AutoRefresh serves the cached schedule when it is still valid and fetches
// otherwise. A valid cache without a cleaned derivative regenerates it.
func (o *Orchestrator) AutoRefresh(ctx context.Context) (Outcome, error) {
	st := o.store.WeeklyStatus(o.now())
	if st.Exists && !st.IsExpired {
		if _, ok := cleaner.LoadCleaned(o.store); !ok {
			if _, err := o.normalizer.GenerateCleaned(); err != nil {
				return OutcomeServedCache, err
			}
		}
		o.log.Debug().Str("expires", st.ExpiresDate).Msg("weekly cache still valid")
		outcomes.WithLabelValues(OutcomeServedCache.String()).Inc()
		return OutcomeServedCache, nil
	}
	return o.ForceRefresh(ctx)
}

// ForceRefresh fetches unconditionally, starting a fresh attempt ladder.
func (o *Orchestrator) ForceRefresh(ctx context.Context) (Outcome, error) {
	return o.refresh(ctx, 1)
}

func (o *Orchestrator) refresh(ctx context.Context, attempt int) (Outcome, error) {
	if !atomic.CompareAndSwapUint32(&o.inFlight, 0, 1) {
		return OutcomeInFlight, nil
	}
	defer atomic.StoreUint32(&o.inFlight, 0)

	resp, err := o.feed.FetchWeekly(ctx)
	if err == nil {
		if _, cerr := o.normalizer.GenerateCleaned(); cerr != nil {
			return OutcomeRefreshed, cerr
		}
		if o.bus != nil {
			o.bus.Publish(notify.Event{Type: notify.EventWeeklyRefreshed, Detail: resp.Expires, At: o.now()})
		}
		outcomes.WithLabelValues(OutcomeRefreshed.String()).Inc()
		o.log.Info().Int("attempt", attempt).Str("expires", resp.Expires).Msg("weekly schedule refreshed")
		return OutcomeRefreshed, nil
	}

	if errclass.IsAuthRequired(err) {
		// The feed already raised the re-login alert; retrying with the
		// same token would only repeat the rejection.
		outcomes.WithLabelValues(OutcomeAuthRequired.String()).Inc()
		return OutcomeAuthRequired, err
	}

	if attempt < o.maxAttempts {
		next := attempt + 1
		o.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", o.retryDelay).
			Msg("weekly fetch failed, retry scheduled")
		o.sched.SubmitAfter(ctx, SchedKey, o.retryDelay, schedqueue.JobFunc(func(jctx context.Context) error {
			// Failure handling lives in the ladder itself; report soft
			// success so the scheduler does not add its own retries.
			_, _ = o.refresh(jctx, next)
			return nil
		}))
		outcomes.WithLabelValues(OutcomeRetryScheduled.String()).Inc()
		return OutcomeRetryScheduled, err
	}

	o.log.Error().Err(err).Int("attempts", attempt).Msg("weekly refresh attempts exhausted")
	if o.notifier != nil {
		o.notifier.Notify(notify.NewAlert(
			BackendAlertDedupKey,
			"Attendance backend unreachable",
			fmt.Sprintf("Gave up after %d attempts; will try again on the next cycle.", attempt),
		))
	}
	if o.bus != nil {
		o.bus.Publish(notify.Event{Type: notify.EventBackendDown, Detail: err.Error(), At: o.now()})
	}
	outcomes.WithLabelValues(OutcomeExhausted.String()).Inc()
	return OutcomeExhausted, err
}
