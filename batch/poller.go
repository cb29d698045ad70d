package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AltairaLabs/SwapKit/client/logger"
	metrics "github.com/AltairaLabs/SwapKit/client/metrics/prometheus"
)

// DefaultPollInterval is the fixed cadence between status polls. Polling is
// fixed-interval, not backed off: job duration is externally bounded and
// predictable.
const DefaultPollInterval = 2 * time.Second

// StatusFunc fetches one status snapshot for a job.
type StatusFunc func(ctx context.Context, jobID string) (*JobStatus, error)

// PollCallbacks deliver translated job updates. Nil callbacks are skipped.
type PollCallbacks struct {
	// OnProgress fires for each non-terminal status observation.
	OnProgress func(state JobState, percent int)

	// OnCompleted fires exactly once when the job completes.
	OnCompleted func(result ResultLocator)

	// OnFailed fires exactly once on terminal failure, either reported by the
	// service or after MaxConsecutiveFailures transient poll errors.
	OnFailed func(err error)
}

// PollerConfig configures the polling loop.
type PollerConfig struct {
	// Interval is the fixed poll cadence. Defaults to DefaultPollInterval.
	Interval time.Duration

	// MaxConsecutiveFailures is how many transient poll failures in a row end
	// the subscription with OnFailed. Zero means poll forever.
	MaxConsecutiveFailures int

	// Clock drives the loop. Defaults to the real clock.
	Clock Clock
}

func (c *PollerConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.Clock == nil {
		c.Clock = RealClock()
	}
}

// Poller repeatedly queries job status until a terminal state is observed.
// At most one poll is in flight per subscription; a transient failure is
// logged and retried on the next tick.
type Poller struct {
	cfg   PollerConfig
	fetch StatusFunc
}

// NewPoller creates a poller that queries status through fetch.
func NewPoller(fetch StatusFunc, cfg PollerConfig) *Poller {
	cfg.defaults()
	return &Poller{cfg: cfg, fetch: fetch}
}

// Subscription is one active observation of a job. Cancel is idempotent and
// safe to call concurrently with an in-flight poll; a result that arrives
// after cancellation is discarded, never applied.
type Subscription struct {
	cancel context.CancelFunc

	mu   sync.Mutex
	done bool
}

// Cancel stops polling and guarantees no further callbacks once it returns.
// It must not be called from inside a callback of the same subscription.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.cancel()
}

// Done reports whether the subscription has ended, by cancellation or by
// reaching a terminal state.
func (s *Subscription) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// deliver runs fn unless the subscription already ended. The lock is held
// across fn so that a returned Cancel call strictly precedes or strictly
// follows every callback. When terminal is true the subscription ends with
// this delivery.
func (s *Subscription) deliver(terminal bool, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	if terminal {
		s.done = true
	}
	if fn != nil {
		fn()
	}
	return true
}

// Observe starts polling jobID until a terminal status, a failure threshold,
// or cancellation. The first poll happens after one interval, not
// immediately; the submission response already established the Pending state.
func (p *Poller) Observe(ctx context.Context, jobID string, cb PollCallbacks) *Subscription {
	pollCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel}

	go p.run(pollCtx, jobID, sub, cb)

	return sub
}

func (p *Poller) run(ctx context.Context, jobID string, sub *Subscription, cb PollCallbacks) {
	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		status, err := p.fetch(ctx, jobID)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			metrics.RecordPoll(metrics.StatusError)
			failures++
			logger.Warn("job status poll failed",
				"job_id", jobID, "consecutive", failures, "error", err)

			if p.cfg.MaxConsecutiveFailures > 0 && failures >= p.cfg.MaxConsecutiveFailures {
				sub.deliver(true, func() {
					if cb.OnFailed != nil {
						cb.OnFailed(fmt.Errorf("%w after %d attempts: %w",
							ErrPollingFailed, failures, err))
					}
				})
				return
			}
			continue
		}

		metrics.RecordPoll(metrics.StatusSuccess)
		failures = 0

		if p.apply(jobID, sub, cb, status) {
			return
		}
	}
}

// apply translates one status snapshot into callbacks. It returns true when
// the subscription ended.
func (p *Poller) apply(jobID string, sub *Subscription, cb PollCallbacks, status *JobStatus) bool {
	switch status.State {
	case JobPending, JobProcessing:
		logger.JobEvent(jobID, string(status.State), status.Progress)
		sub.deliver(false, func() {
			if cb.OnProgress != nil {
				cb.OnProgress(status.State, status.Progress)
			}
		})
		return sub.Done()

	case JobCompleted:
		logger.JobEvent(jobID, string(JobCompleted), 100)
		sub.deliver(true, func() {
			if cb.OnCompleted == nil {
				return
			}
			if status.Result == nil {
				if cb.OnFailed != nil {
					cb.OnFailed(&JobError{JobID: jobID, Detail: ErrNoResult.Error()})
				}
				return
			}
			cb.OnCompleted(*status.Result)
		})
		return true

	case JobFailed:
		logger.JobEvent(jobID, string(JobFailed), status.Progress, "detail", status.Detail)
		sub.deliver(true, func() {
			if cb.OnFailed != nil {
				cb.OnFailed(&JobError{JobID: jobID, Detail: status.Detail})
			}
		})
		return true

	default:
		// Submitting never comes back from the wire.
		logger.Debug("ignoring unexpected job state", "job_id", jobID, "state", status.State)
		return false
	}
}
