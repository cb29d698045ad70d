// Package client is the client-side orchestration layer for a remote
// face-swap inference service. It drives two modes: a live bidirectional
// frame-exchange session over WebSocket and an asynchronous batch job
// lifecycle (submit, poll, fetch result) over HTTP.
package client

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/AltairaLabs/SwapKit/client/batch"
	"github.com/AltairaLabs/SwapKit/client/credentials"
	"github.com/AltairaLabs/SwapKit/client/live"
	"github.com/AltairaLabs/SwapKit/client/logger"
	"github.com/AltairaLabs/SwapKit/client/media"
)

// Client is the entry point for both live streaming and batch jobs. At most
// one live session and one batch job are active per client; starting a new
// one supersedes the previous.
type Client struct {
	cfg        *Config
	cred       credentials.Credential
	controller *batch.Controller

	mu          sync.Mutex
	liveSession *live.Session
}

// Option configures the client.
type Option func(*Client)

// WithCredential sets the credential attached to outgoing requests.
// Overrides the APIKey config field.
func WithCredential(cred credentials.Credential) Option {
	return func(c *Client) {
		c.cred = cred
	}
}

// New creates a client from cfg.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg}
	if cfg.APIKey != "" {
		c.cred = credentials.NewAPIKeyCredential(cfg.APIKey)
	} else {
		c.cred = &credentials.NoOpCredential{}
	}
	for _, opt := range opts {
		opt(c)
	}

	headers, err := credentials.Headers(context.Background(), c.cred)
	if err != nil {
		return nil, err
	}

	submitter := batch.NewSubmitter(cfg.ServiceURL,
		batch.WithHeaders(headers),
		batch.WithHTTPClient(&http.Client{Timeout: cfg.Batch.SubmitTimeoutDuration()}),
	)
	c.controller = batch.NewController(submitter, batch.PollerConfig{
		Interval:               cfg.Batch.PollIntervalDuration(),
		MaxConsecutiveFailures: cfg.Batch.MaxConsecutivePollFailures,
	})

	return c, nil
}

// StartLiveSession opens a live session streaming frames from producer. Any
// previously active live session is stopped first. Session events arrive
// through callbacks; the returned session exposes state and counters.
func (c *Client) StartLiveSession(
	ctx context.Context,
	reference *media.EncodedImage,
	producer live.FrameProducer,
	callbacks live.Callbacks,
) (*live.Session, error) {
	headers, err := credentials.Headers(ctx, c.cred)
	if err != nil {
		return nil, err
	}

	s, err := live.NewSession(live.SessionConfig{
		Endpoint:         c.cfg.ResolvedLiveEndpoint(),
		Headers:          headers,
		Reference:        reference,
		Producer:         producer,
		Callbacks:        callbacks,
		TargetFPS:        c.cfg.Live.TargetFPS,
		MaxDimension:     c.cfg.Live.MaxDimension,
		Quality:          c.cfg.Live.Quality,
		HandshakeTimeout: c.cfg.Live.HandshakeTimeoutDuration(),
		Logger:           slogAdapter{},
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	prev := c.liveSession
	c.liveSession = s
	c.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	if err := s.Start(ctx); err != nil {
		c.mu.Lock()
		if c.liveSession == s {
			c.liveSession = nil
		}
		c.mu.Unlock()
		return nil, err
	}

	return s, nil
}

// StopLiveSession stops the active live session, if any. Idempotent.
func (c *Client) StopLiveSession() {
	c.mu.Lock()
	s := c.liveSession
	c.liveSession = nil
	c.mu.Unlock()

	if s != nil {
		s.Stop()
	}
}

// LiveSession returns the active live session, nil when none.
func (c *Client) LiveSession() *live.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveSession
}

// RunBatchJob submits one batch job and polls it until a terminal state.
// A previously active job's polling is canceled.
func (c *Client) RunBatchJob(
	ctx context.Context, reference *media.EncodedImage, video batch.Blob, cb batch.JobCallbacks,
) (*batch.JobHandle, error) {
	return c.controller.RunJob(ctx, reference, video, cb)
}

// CancelBatchJob stops polling for the job. Idempotent.
func (c *Client) CancelBatchJob(handle *batch.JobHandle) {
	c.controller.Cancel(handle)
}

// ActiveBatchJob returns the active job handle, nil when none.
func (c *Client) ActiveBatchJob() *batch.JobHandle {
	return c.controller.Active()
}

// SwapImage performs a synchronous single-image swap.
func (c *Client) SwapImage(
	ctx context.Context, source, target *media.EncodedImage, opts batch.ImageSwapOptions,
) ([]byte, error) {
	return c.controller.SwapImage(ctx, source, target, opts)
}

// FetchResult opens a completed job's artifact for reading.
func (c *Client) FetchResult(ctx context.Context, locator batch.ResultLocator) (io.ReadCloser, error) {
	return c.controller.FetchResult(ctx, locator)
}

// slogAdapter forwards transport logs to the package logger.
type slogAdapter struct{}

func (slogAdapter) Debug(msg string, keysAndValues ...interface{}) {
	logger.Debug(msg, keysAndValues...)
}

func (slogAdapter) Info(msg string, keysAndValues ...interface{}) {
	logger.Info(msg, keysAndValues...)
}

func (slogAdapter) Warn(msg string, keysAndValues ...interface{}) {
	logger.Warn(msg, keysAndValues...)
}

func (slogAdapter) Error(msg string, keysAndValues ...interface{}) {
	logger.Error(msg, keysAndValues...)
}
