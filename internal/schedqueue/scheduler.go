// Package schedqueue provides a lightweight sharded work-queue that
// guarantees FIFO order per key while allowing parallelism across shards,
// plus delayed and periodic submission on top of it. The refresh and match
// pipelines each use their own key, so their jobs never interleave.
//
// Contract: callers must not invoke Submit concurrently for the same key.
// FIFO ordering relies on that external serialisation.
package schedqueue

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/errclass"
)

type queuedJob struct {
	ctx context.Context
	job Job
}

// Scheduler executes Jobs on worker goroutines partitioned by a stable hash
// of the key. FIFO ordering is preserved within a shard; jobs with different
// keys may run in parallel. Failed jobs are retried with exponential backoff
// unless the error is irrecoverable.
type Scheduler struct {
	cfg    Config
	log    zerolog.Logger
	queues []chan queuedJob // len == cfg.Shards

	done   chan struct{} // closed in Stop()
	closed uint32        // 0 → running, 1 → closed

	wg       sync.WaitGroup
	timersWg sync.WaitGroup
}

// New constructs the scheduler and starts its shard workers.
func New(cfg Config, log zerolog.Logger) *Scheduler {
	// Apply zero-value defaults.
	if cfg.Shards <= 0 {
		cfg.Shards = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 100 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}

	s := &Scheduler{
		cfg:    cfg,
		log:    log,
		queues: make([]chan queuedJob, cfg.Shards),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan queuedJob, cfg.QueueSize)
		s.queues[i] = ch
		s.wg.Add(1)
		go s.runWorker(i, ch)
	}
	return s
}

// Submit enqueues job for the shard derived from key.
//
//   - Returns nil on success.
//   - Returns ErrSchedulerClosed if the scheduler is stopped.
//   - Returns ErrQueueFull (wrapped in *QueueFullError) if the shard is full
//     after EnqueueTimeout elapses.
//   - Returns ctx.Err() if the caller-provided context is cancelled first.
func (s *Scheduler) Submit(ctx context.Context, key string, job Job) error {
	// Fast checks to avoid accepting work after Stop().
	// 1. If Stop() has set the flag but not yet closed s.done we still reject.
	if atomic.LoadUint32(&s.closed) == 1 {
		return ErrSchedulerClosed
	}

	// 2. Complementary check: s.done may already be closed even if we missed
	// the flag change.
	select {
	case <-s.done:
		return ErrSchedulerClosed
	default:
	}

	qj := queuedJob{ctx: ctx, job: job}
	shard := s.shardFor(key)
	ch := s.queues[shard]

	timer := time.NewTimer(s.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- qj:
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		return nil

	case <-s.done: // Stop() may be called while waiting for space
		return ErrSchedulerClosed

	case <-ctx.Done():
		return ctx.Err()

	case <-timer.C:
		queueFullTotal.WithLabelValues(labelFor(shard)).Inc()
		return &QueueFullError{
			Shard:    shard,
			Length:   len(ch),
			Capacity: cap(ch),
		}
	}
}

// SubmitAfter enqueues job on key's shard once delay elapses. The delay is
// dropped silently if the scheduler stops or ctx is cancelled first.
func (s *Scheduler) SubmitAfter(ctx context.Context, key string, delay time.Duration, job Job) {
	s.timersWg.Add(1)
	go func() {
		defer s.timersWg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			if err := s.Submit(ctx, key, job); err != nil {
				s.log.Debug().Err(err).Str("key", key).Msg("delayed job dropped")
			}
		case <-s.done:
		case <-ctx.Done():
		}
	}()
}

// Every submits job on key's shard at each interval tick until the returned
// cancel func is called or the scheduler stops. The first submission happens
// after one full interval.
func (s *Scheduler) Every(ctx context.Context, key string, interval time.Duration, job Job) func() {
	stop := make(chan struct{})
	var once sync.Once
	s.timersWg.Add(1)
	go func() {
		defer s.timersWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Submit(ctx, key, job); err != nil {
					s.log.Debug().Err(err).Str("key", key).Msg("periodic job dropped")
				}
			case <-stop:
				return
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}

// Barrier enqueues a no-op job on the shard for key and waits until it runs,
// ensuring all previously submitted jobs for that key have completed.
func (s *Scheduler) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	j := JobFunc(func(context.Context) error {
		close(done)
		return nil
	})
	if err := s.Submit(ctx, key, j); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop signals every worker to finish draining its current queue, waits for
// them and any pending timers to terminate, and then returns. It is
// idempotent and safe for concurrent use.
func (s *Scheduler) Stop() {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return // already closed
	}

	s.log.Info().Int("shards", s.cfg.Shards).Msg("stopping scheduler, draining shards")

	close(s.done)
	s.timersWg.Wait()
	s.wg.Wait()

	s.log.Info().Msg("scheduler stopped, all queues drained")
}

// Close lets Scheduler satisfy io.Closer.
func (s *Scheduler) Close() error {
	s.Stop()
	return nil
}

// ------------------------- internals -------------------------

func (s *Scheduler) runWorker(idx int, ch <-chan queuedJob) {
	defer s.wg.Done()

	// Protect worker from crashing the entire scheduler.
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Int("worker", idx).Interface("panic", r).Msg("worker panic")
		}
	}()

	label := labelFor(idx)

	for {
		select {
		case qj := <-ch:
			if qj.job == nil {
				continue
			}

			// Honour caller context so a cancelled job doesn't stall the shard.
			select {
			case <-qj.ctx.Done():
				s.safeHandleError(qj.ctx.Err())
				// Do not record latency for a job we didn't run.
			default:
				attempts := 0
				exp := backoff.NewExponentialBackOff()
				exp.InitialInterval = s.cfg.BaseBackoff
				exp.Multiplier = 2
				exp.MaxInterval = s.cfg.MaxInterval
				exp.Reset()

				var err error
				for {
					start := time.Now()
					err = qj.job.Run(qj.ctx)
					runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

					if err == nil {
						break
					}

					// Fail fast on errors no retry can fix, auth failures
					// above all.
					if errclass.IsIrrecoverable(err) {
						s.safeHandleError(err)
						break
					}

					if attempts >= s.cfg.MaxAttempts-1 {
						s.safeHandleError(err) // retry budget exhausted
						break
					}

					attempts++
					wait := exp.NextBackOff()
					select {
					case <-time.After(wait):
					case <-s.done:
						return
					case <-qj.ctx.Done():
						s.safeHandleError(qj.ctx.Err())
						attempts = s.cfg.MaxAttempts // force exit loop
					}
				}
			}

			queueDepth.WithLabelValues(label).Set(float64(len(ch)))

		case <-s.done:
			// Drain remaining jobs, preserving FIFO, then exit.
			if remaining := len(ch); remaining > 0 {
				s.log.Info().Int("worker", idx).Int("remaining", remaining).Msg("draining remaining jobs")
			}

			drained := 0
			for {
				select {
				case qj := <-ch:
					if qj.job != nil {
						_ = qj.job.Run(qj.ctx)
						drained++
					}
				default:
					if drained > 0 {
						s.log.Info().Int("worker", idx).Int("drained", drained).Msg("drain complete")
					}
					queueDepth.WithLabelValues(label).Set(0)
					return
				}
			}
		}
	}
}

func (s *Scheduler) safeHandleError(err error) {
	if err == nil || s.cfg.ErrorHandler == nil {
		return
	}
	func() {
		// Guard against panics in the user-supplied handler.
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Interface("panic", r).Msg("error handler panic")
			}
		}()
		s.cfg.ErrorHandler(err)
	}()
}

func (s *Scheduler) shardFor(key string) int {
	h := fnv.New32a() // fast and sufficient at our scale
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % s.cfg.Shards
}
