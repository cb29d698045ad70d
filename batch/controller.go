package batch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/SwapKit/client/logger"
	"github.com/AltairaLabs/SwapKit/client/media"
	metrics "github.com/AltairaLabs/SwapKit/client/metrics/prometheus"
)

// JobCallbacks deliver job lifecycle events to the caller. Nil callbacks are
// skipped.
type JobCallbacks struct {
	// OnProgress fires with the completion percentage for each non-terminal
	// status observation.
	OnProgress func(percent int)

	// OnCompleted fires exactly once with the artifact locator.
	OnCompleted func(result ResultLocator)

	// OnFailed fires exactly once with the terminal failure.
	OnFailed func(err error)
}

// JobHandle is the caller's view of one submitted job.
type JobHandle struct {
	id            string
	correlationID string
	sub           *Subscription

	mu       sync.Mutex
	state    JobState
	progress int
	result   *ResultLocator
	err      error
}

// ID returns the server-assigned job id.
func (h *JobHandle) ID() string {
	return h.id
}

// CorrelationID returns the client-generated id used in logs before the
// server assigns its own.
func (h *JobHandle) CorrelationID() string {
	return h.correlationID
}

// State returns the last observed job state.
func (h *JobHandle) State() JobState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Progress returns the last observed completion percentage.
func (h *JobHandle) Progress() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

// Result returns the artifact locator, nil until the job completes.
func (h *JobHandle) Result() *ResultLocator {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Err returns the terminal failure, nil unless the job failed.
func (h *JobHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Controller composes submission and polling behind one job lifecycle. At
// most one job is active per controller: starting a new job cancels the
// previous job's subscription. It does not attempt to cancel already
// submitted server-side work; that is owned by the service.
type Controller struct {
	submitter *Submitter
	poller    *Poller

	mu     sync.Mutex
	active *JobHandle
}

// NewController creates a controller that submits through submitter and
// polls status with pollCfg.
func NewController(submitter *Submitter, pollCfg PollerConfig) *Controller {
	return &Controller{
		submitter: submitter,
		poller:    NewPoller(submitter.Status, pollCfg),
	}
}

// RunJob submits one batch request and starts polling it until a terminal
// state. A previously active job's subscription is canceled first.
func (c *Controller) RunJob(
	ctx context.Context, source *media.EncodedImage, video Blob, cb JobCallbacks,
) (*JobHandle, error) {
	c.mu.Lock()
	prev := c.active
	c.active = nil
	c.mu.Unlock()

	if prev != nil && prev.sub != nil {
		prev.sub.Cancel()
		logger.JobEvent(prev.id, "superseded", prev.Progress())
	}

	handle := &JobHandle{
		correlationID: uuid.NewString(),
		state:         JobSubmitting,
	}
	logger.JobEvent(handle.correlationID, string(JobSubmitting), 0)

	start := time.Now()

	id, err := c.submitter.Submit(ctx, source, video)
	if err != nil {
		return nil, err
	}
	handle.id = id
	handle.setState(JobPending, 0)

	handle.sub = c.poller.Observe(ctx, id, PollCallbacks{
		OnProgress: func(state JobState, percent int) {
			handle.setState(state, percent)
			if cb.OnProgress != nil {
				cb.OnProgress(percent)
			}
		},
		OnCompleted: func(result ResultLocator) {
			handle.complete(result)
			metrics.RecordJobEnd(string(JobCompleted), time.Since(start).Seconds())
			if cb.OnCompleted != nil {
				cb.OnCompleted(result)
			}
		},
		OnFailed: func(err error) {
			handle.fail(err)
			metrics.RecordJobEnd(string(JobFailed), time.Since(start).Seconds())
			if cb.OnFailed != nil {
				cb.OnFailed(err)
			}
		},
	})

	c.mu.Lock()
	c.active = handle
	c.mu.Unlock()

	return handle, nil
}

// Cancel stops polling for the job. Idempotent; safe on a handle that
// already reached a terminal state.
func (c *Controller) Cancel(handle *JobHandle) {
	if handle == nil || handle.sub == nil {
		return
	}
	handle.sub.Cancel()

	c.mu.Lock()
	if c.active == handle {
		c.active = nil
	}
	c.mu.Unlock()

	logger.JobEvent(handle.id, "canceled", handle.Progress())
}

// Active returns the currently active job handle, nil when none.
func (c *Controller) Active() *JobHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SwapImage performs a synchronous single-image swap through the submitter.
func (c *Controller) SwapImage(
	ctx context.Context, source, target *media.EncodedImage, opts ImageSwapOptions,
) ([]byte, error) {
	return c.submitter.SwapImage(ctx, source, target, opts)
}

// FetchResult opens the completed artifact for reading. The locator's
// download URL may be absolute or relative to the service base URL. The
// caller owns the returned reader.
func (c *Controller) FetchResult(ctx context.Context, locator ResultLocator) (io.ReadCloser, error) {
	target := locator.DownloadURL
	if target == "" {
		target = locator.StreamingURL
	}
	if target == "" {
		return nil, ErrNoResult
	}

	resolved, err := c.resolveURL(target)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create result request: %w", err)
	}
	c.submitter.applyHeaders(req)

	resp, err := c.submitter.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("result request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("result request returned %d: %s", resp.StatusCode, string(body))
	}

	return resp.Body, nil
}

func (c *Controller) resolveURL(target string) (string, error) {
	if strings.Contains(target, "://") {
		return target, nil
	}
	base, err := url.Parse(c.submitter.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid result locator: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (h *JobHandle) setState(state JobState, progress int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	h.progress = progress
}

func (h *JobHandle) complete(result ResultLocator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = JobCompleted
	h.progress = 100
	h.result = &result
}

func (h *JobHandle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = JobFailed
	h.err = err
}
