package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the poll loop manually from the test.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(_ time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Tick advances time and fires every ticker once. It waits for at least one
// ticker to be registered so a tick issued right after Observe, before the
// poll goroutine has been scheduled, is not lost.
func (c *fakeClock) Tick() {
	c.mu.Lock()
	for len(c.tickers) == 0 {
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
		c.mu.Lock()
	}
	c.now = c.now.Add(time.Second)
	now := c.now
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		select {
		case t.ch <- now:
		default:
		}
	}
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

// scriptedFetch returns canned results in order and counts calls.
type scriptedFetch struct {
	mu    sync.Mutex
	steps []func() (*JobStatus, error)
	calls int
}

func (s *scriptedFetch) fetch(_ context.Context, _ string) (*JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.steps) {
		s.calls++
		return nil, errors.New("unexpected poll")
	}
	step := s.steps[s.calls]
	s.calls++
	return step()
}

func (s *scriptedFetch) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func statusStep(state JobState, progress int) func() (*JobStatus, error) {
	return func() (*JobStatus, error) {
		return &JobStatus{State: state, Progress: progress}, nil
	}
}

func completedStep(downloadURL string) func() (*JobStatus, error) {
	return func() (*JobStatus, error) {
		return &JobStatus{
			State:    JobCompleted,
			Progress: 100,
			Result:   &ResultLocator{DownloadURL: downloadURL},
		}, nil
	}
}

func errorStep() func() (*JobStatus, error) {
	return func() (*JobStatus, error) {
		return nil, errors.New("connection reset")
	}
}

type pollEvent struct {
	kind     string
	progress int
	result   ResultLocator
	err      error
}

// collector funnels callbacks into a channel so tests can assert ordering.
type collector struct {
	events chan pollEvent
}

func newCollector() *collector {
	return &collector{events: make(chan pollEvent, 16)}
}

func (c *collector) callbacks() PollCallbacks {
	return PollCallbacks{
		OnProgress: func(_ JobState, percent int) {
			c.events <- pollEvent{kind: "progress", progress: percent}
		},
		OnCompleted: func(result ResultLocator) {
			c.events <- pollEvent{kind: "completed", result: result}
		},
		OnFailed: func(err error) {
			c.events <- pollEvent{kind: "failed", err: err}
		},
	}
}

func (c *collector) next(t *testing.T) pollEvent {
	t.Helper()
	select {
	case ev := <-c.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for poll event")
		return pollEvent{}
	}
}

func (c *collector) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-c.events:
		t.Fatalf("unexpected poll event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPollerScriptedSequence(t *testing.T) {
	script := &scriptedFetch{steps: []func() (*JobStatus, error){
		statusStep(JobPending, 0),
		statusStep(JobProcessing, 40),
		statusStep(JobProcessing, 90),
		completedStep("/artifacts/job-42.mp4"),
	}}
	clock := newFakeClock()
	col := newCollector()

	p := NewPoller(script.fetch, PollerConfig{Interval: time.Second, Clock: clock})
	sub := p.Observe(context.Background(), "job-42", col.callbacks())

	clock.Tick()
	ev := col.next(t)
	assert.Equal(t, "progress", ev.kind)
	assert.Equal(t, 0, ev.progress)

	clock.Tick()
	ev = col.next(t)
	assert.Equal(t, 40, ev.progress)

	clock.Tick()
	ev = col.next(t)
	assert.Equal(t, 90, ev.progress)

	clock.Tick()
	ev = col.next(t)
	require.Equal(t, "completed", ev.kind)
	assert.Equal(t, "/artifacts/job-42.mp4", ev.result.DownloadURL)

	// Terminal: further ticks must not poll again.
	clock.Tick()
	col.expectNone(t)
	assert.Equal(t, 4, script.callCount())
	assert.True(t, sub.Done())
}

func TestPollerTransientFailureDoesNotTerminate(t *testing.T) {
	script := &scriptedFetch{steps: []func() (*JobStatus, error){
		statusStep(JobProcessing, 40),
		errorStep(),
		statusStep(JobProcessing, 60),
		completedStep("/artifacts/done.mp4"),
	}}
	clock := newFakeClock()
	col := newCollector()

	p := NewPoller(script.fetch, PollerConfig{Interval: time.Second, Clock: clock})
	p.Observe(context.Background(), "job-1", col.callbacks())

	clock.Tick()
	assert.Equal(t, 40, col.next(t).progress)

	// The failed poll produces no event; polling resumes on the next tick.
	clock.Tick()
	col.expectNone(t)

	clock.Tick()
	assert.Equal(t, 60, col.next(t).progress)

	clock.Tick()
	assert.Equal(t, "completed", col.next(t).kind)
}

func TestPollerFailureThreshold(t *testing.T) {
	script := &scriptedFetch{steps: []func() (*JobStatus, error){
		errorStep(),
		errorStep(),
	}}
	clock := newFakeClock()
	col := newCollector()

	p := NewPoller(script.fetch, PollerConfig{
		Interval:               time.Second,
		MaxConsecutiveFailures: 2,
		Clock:                  clock,
	})
	p.Observe(context.Background(), "job-1", col.callbacks())

	clock.Tick()
	col.expectNone(t)

	clock.Tick()
	ev := col.next(t)
	require.Equal(t, "failed", ev.kind)
	assert.ErrorIs(t, ev.err, ErrPollingFailed)

	clock.Tick()
	col.expectNone(t)
	assert.Equal(t, 2, script.callCount())
}

func TestPollerJobFailedCarriesDetail(t *testing.T) {
	script := &scriptedFetch{steps: []func() (*JobStatus, error){
		func() (*JobStatus, error) {
			return &JobStatus{State: JobFailed, Detail: "no face detected"}, nil
		},
	}}
	clock := newFakeClock()
	col := newCollector()

	p := NewPoller(script.fetch, PollerConfig{Interval: time.Second, Clock: clock})
	p.Observe(context.Background(), "job-9", col.callbacks())

	clock.Tick()
	ev := col.next(t)
	require.Equal(t, "failed", ev.kind)

	var jobErr *JobError
	require.ErrorAs(t, ev.err, &jobErr)
	assert.Equal(t, "job-9", jobErr.JobID)
	assert.Equal(t, "no face detected", jobErr.Detail)
}

func TestPollerCancelDiscardsInFlightResult(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fetch := func(_ context.Context, _ string) (*JobStatus, error) {
		close(entered)
		<-release
		return &JobStatus{
			State:  JobCompleted,
			Result: &ResultLocator{DownloadURL: "/too/late.mp4"},
		}, nil
	}

	clock := newFakeClock()
	col := newCollector()

	p := NewPoller(fetch, PollerConfig{Interval: time.Second, Clock: clock})
	sub := p.Observe(context.Background(), "job-1", col.callbacks())

	clock.Tick()
	<-entered

	sub.Cancel()
	close(release)

	col.expectNone(t)
	assert.True(t, sub.Done())
}

func TestPollerCancelIdempotentAndConcurrent(t *testing.T) {
	script := &scriptedFetch{steps: []func() (*JobStatus, error){
		statusStep(JobProcessing, 10),
	}}
	clock := newFakeClock()
	col := newCollector()

	p := NewPoller(script.fetch, PollerConfig{Interval: time.Second, Clock: clock})
	sub := p.Observe(context.Background(), "job-1", col.callbacks())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.Cancel()
		}()
	}
	wg.Wait()

	clock.Tick()
	col.expectNone(t)
	assert.True(t, sub.Done())
}

func TestPollerCompletedWithoutResult(t *testing.T) {
	script := &scriptedFetch{steps: []func() (*JobStatus, error){
		func() (*JobStatus, error) {
			return &JobStatus{State: JobCompleted, Progress: 100}, nil
		},
	}}
	clock := newFakeClock()
	col := newCollector()

	p := NewPoller(script.fetch, PollerConfig{Interval: time.Second, Clock: clock})
	p.Observe(context.Background(), "job-1", col.callbacks())

	clock.Tick()
	ev := col.next(t)
	require.Equal(t, "failed", ev.kind)
}

func TestPollerConfigDefaults(t *testing.T) {
	cfg := PollerConfig{}
	cfg.defaults()
	assert.Equal(t, DefaultPollInterval, cfg.Interval)
	assert.NotNil(t, cfg.Clock)
}
