// Package live drives one real-time face-swap stream end to end: it owns the
// streaming connection, sends the reference image as the opening handshake,
// rate-gates and encodes outbound camera frames, and delivers processed
// frames back to the caller in arrival order.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/SwapKit/client/logger"
	"github.com/AltairaLabs/SwapKit/client/media"
	metrics "github.com/AltairaLabs/SwapKit/client/metrics/prometheus"
	"github.com/AltairaLabs/SwapKit/client/transport"
)

// Default session constants.
const (
	// DefaultCaptureInterval is how often the producer is polled for a new
	// frame. The gate decides which of those frames actually go out.
	DefaultCaptureInterval = 33 * time.Millisecond

	// DefaultPingInterval is the cadence of protocol-level ping messages.
	DefaultPingInterval = 15 * time.Second

	// DefaultHandshakeTimeout bounds the wait for the first acknowledgement
	// after the reference image is sent.
	DefaultHandshakeTimeout = 10 * time.Second
)

// State is the live session lifecycle state.
type State int32

// Session states. Transitions are forward-only except that every state can
// reach Degraded (transport error) or Closed (explicit stop or definitive
// remote closure).
const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingAck
	StateStreaming
	StateDegraded
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateStreaming:
		return "streaming"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FrameProducer yields the next captured frame, or nil when no frame is
// currently available. It is polled from a single loop.
type FrameProducer func() *media.Frame

// Callbacks deliver session events to the caller. Nil callbacks are skipped.
// Deliveries are serialized, and Stop blocks until an in-flight delivery
// returns, so no callback is invoked after Stop returns. Callbacks must not
// call Stop.
type Callbacks struct {
	// OnProcessedFrame receives each processed frame in arrival order.
	OnProcessedFrame func(frame *media.Frame)

	// OnDegraded fires once when the transport is lost while the session is
	// still wanted. The session does not retry; the caller decides.
	OnDegraded func(reason error)

	// OnClosed fires once when the session ends in Closed. A session that
	// already reported Degraded does not also report Closed.
	OnClosed func()

	// OnFrameError receives recoverable per-frame failures (malformed
	// inbound payloads, unencodable captures, per-frame service errors).
	OnFrameError func(err error)
}

// SessionConfig configures a live streaming session.
type SessionConfig struct {
	// Endpoint is the WebSocket URL of the live-processing service. Required.
	Endpoint string

	// Headers are attached to the connection handshake (credentials).
	Headers http.Header

	// Reference is the face image sent as the first payload. Required.
	Reference *media.EncodedImage

	// Producer yields captured frames. Required.
	Producer FrameProducer

	// Callbacks deliver session events.
	Callbacks Callbacks

	// TargetFPS is the outbound frame rate. Defaults to DefaultTargetFPS.
	TargetFPS float64

	// MaxDimension caps outbound frame dimensions.
	// Defaults to media.DefaultMaxDimension.
	MaxDimension int

	// Quality is the outbound JPEG quality (1-100).
	// Defaults to media.DefaultQuality.
	Quality int

	// CaptureInterval is the producer poll cadence.
	// Defaults to DefaultCaptureInterval.
	CaptureInterval time.Duration

	// PingInterval is the protocol ping cadence.
	// Defaults to DefaultPingInterval.
	PingInterval time.Duration

	// HandshakeTimeout bounds the wait for the handshake acknowledgement.
	// Defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// Logger is forwarded to the transport connection. Optional.
	Logger transport.Logger
}

func (c *SessionConfig) defaults() {
	if c.TargetFPS <= 0 {
		c.TargetFPS = DefaultTargetFPS
	}
	if c.MaxDimension <= 0 {
		c.MaxDimension = media.DefaultMaxDimension
	}
	if c.Quality <= 0 {
		c.Quality = media.DefaultQuality
	}
	if c.CaptureInterval <= 0 {
		c.CaptureInterval = DefaultCaptureInterval
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

// Stats is a snapshot of session frame counters.
type Stats struct {
	FramesSent    int64
	FramesDropped int64
	FramesRecv    int64
	SendFailures  int64
}

// Session is the live-mode state machine. Create one with NewSession, drive
// it with Start and Stop. A session is single-use: once Closed or Degraded
// it cannot be restarted.
type Session struct {
	cfg           SessionConfig
	correlationID string
	gate          *FrameGate
	conn          *transport.Conn

	mu             sync.Mutex
	state          State
	sessionID      string
	cancel         context.CancelFunc
	lastSentAt     time.Time
	lastReceivedAt time.Time
	stats          Stats
	recvSeq        int64
	sendFailLogged bool
	ended          bool

	// cbMu serializes callback delivery. Terminal transitions close the
	// fence under it, so Stop returning means no delivery is still
	// executing and none will start.
	cbMu   sync.Mutex
	fenced bool
}

// NewSession creates a live session. Start must be called to connect.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("live.SessionConfig.Endpoint is required")
	}
	if cfg.Reference == nil || len(cfg.Reference.Data) == 0 {
		return nil, ErrNoReference
	}
	if cfg.Producer == nil {
		return nil, ErrNoProducer
	}
	cfg.defaults()

	return &Session{
		cfg:           cfg,
		correlationID: uuid.NewString(),
		gate:          NewFrameGate(cfg.TargetFPS),
		state:         StateIdle,
	}, nil
}

// Start connects to the service, sends the reference image as the first
// payload, and launches the send and receive loops. It returns an error if
// the dial or the handshake send fails; later failures surface through the
// configured callbacks.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateConnecting
	s.mu.Unlock()

	logger.SessionEvent(s.correlationID, StateConnecting.String(), "endpoint", s.cfg.Endpoint)

	conn := transport.NewConn(&transport.ConnConfig{
		URL:     s.cfg.Endpoint,
		Headers: s.cfg.Headers,
		Logger:  s.cfg.Logger,
	})
	if err := conn.Connect(ctx); err != nil {
		s.failStart(err)
		return err
	}
	s.conn = conn

	// The reference image is always the first payload on the wire.
	if err := conn.Send(message{Type: msgTypeSourceImage, Data: s.cfg.Reference.DataURL()}); err != nil {
		s.failStart(err)
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.state != StateConnecting {
		// Stopped while dialing.
		s.mu.Unlock()
		cancel()
		_ = conn.Close()
		return nil
	}
	s.state = StateAwaitingAck
	s.cancel = cancel
	s.mu.Unlock()

	metrics.RecordSessionStart()
	logger.SessionEvent(s.correlationID, StateAwaitingAck.String())

	g, gctx := errgroup.WithContext(sessionCtx)
	g.Go(func() error { return s.receiveLoop(gctx) })
	g.Go(func() error { return s.sendLoop(gctx) })
	go s.supervise(g)

	return nil
}

// Stop terminates the session. It is idempotent, valid in any state, and
// blocks until any in-flight callback delivery has returned; after Stop
// returns no further callbacks fire, and inbound messages that arrive later
// are discarded. Stop must not be called from inside a callback.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = StateClosed
	cancel := s.cancel
	onClosed := s.cfg.Callbacks.OnClosed
	ended := s.ended
	s.ended = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if !ended && prev != StateIdle {
		metrics.RecordSessionEnd()
	}

	logger.SessionEvent(s.sessionIDOrCorrelation(), StateClosed.String(), "previous", prev.String())

	s.fence(onClosed)
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the server-assigned session id, empty until the service
// announces it.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// CorrelationID returns the client-generated id used in logs before the
// server assigns its own.
func (s *Session) CorrelationID() string {
	return s.correlationID
}

// Stats returns a snapshot of the session frame counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// LastSentAt returns when the last frame was sent.
func (s *Session) LastSentAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSentAt
}

// LastReceivedAt returns when the last message arrived.
func (s *Session) LastReceivedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReceivedAt
}

// receiveLoop reads inbound messages until the context is canceled or the
// transport fails. The handshake acknowledgement is bounded by
// HandshakeTimeout.
func (s *Session) receiveLoop(ctx context.Context) error {
	for {
		recvCtx := ctx
		var cancel context.CancelFunc
		awaiting := s.State() == StateAwaitingAck
		if awaiting {
			recvCtx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		}

		data, err := s.conn.Receive(recvCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if awaiting && errors.Is(err, context.DeadlineExceeded) {
				return &HandshakeError{Reason: "no acknowledgement from service"}
			}
			if transport.IsNormalClose(err) {
				return errRemoteClosed
			}
			return err
		}

		if err := s.handleMessage(data); err != nil {
			return err
		}
	}
}

// handleMessage decodes one inbound message. A non-nil return is fatal for
// the session; per-frame problems are reported and absorbed.
func (s *Session) handleMessage(data []byte) error {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.reportFrameError(fmt.Errorf("malformed message: %w", err))
		return nil
	}

	s.mu.Lock()
	s.lastReceivedAt = time.Now()
	s.mu.Unlock()

	// Any non-error message acknowledges the handshake: the service echoes
	// either session_created or source_image_processed first.
	if msg.Type != msgTypeError {
		s.ackHandshake()
	}

	switch msg.Type {
	case msgTypeSessionCreated:
		s.mu.Lock()
		s.sessionID = msg.SessionID
		s.mu.Unlock()
		logger.SessionEvent(msg.SessionID, s.State().String(), "correlation_id", s.correlationID)

	case msgTypeSourceImageProcessed, msgTypePong:
		// Liveness only.

	case msgTypeProcessedFrame:
		s.handleProcessedFrame(msg.Data)

	case msgTypeError:
		if s.State() == StateAwaitingAck {
			return &HandshakeError{Reason: msg.Message}
		}
		s.reportFrameError(fmt.Errorf("service error: %s", msg.Message))

	default:
		logger.Debug("ignoring unknown message type", "type", msg.Type)
	}

	return nil
}

func (s *Session) handleProcessedFrame(payload string) {
	// Frames are only meaningful while streaming; anything earlier or later
	// is dropped, not queued.
	if s.State() != StateStreaming {
		return
	}

	img, err := media.ParseDataURL(payload)
	if err != nil {
		s.reportFrameError(err)
		return
	}

	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	s.recvSeq++
	s.stats.FramesRecv++
	frame := &media.Frame{Image: *img, Seq: s.recvSeq, Timestamp: time.Now()}
	cb := s.cfg.Callbacks.OnProcessedFrame
	s.mu.Unlock()

	metrics.RecordFrameReceived()
	if cb != nil {
		s.deliver(func() { cb(frame) })
	}
}

// sendLoop polls the producer and pumps gated frames out, interleaved with
// protocol pings.
func (s *Session) sendLoop(ctx context.Context) error {
	capture := time.NewTicker(s.cfg.CaptureInterval)
	defer capture.Stop()
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ping.C:
			if s.State() == StateStreaming {
				// Failures surface through the receive loop.
				_ = s.conn.Send(message{
					Type:      msgTypePing,
					Timestamp: float64(time.Now().UnixMilli()) / 1000,
				})
			}
		case <-capture.C:
			s.pumpFrame()
		}
	}
}

func (s *Session) pumpFrame() {
	if s.State() != StateStreaming {
		return
	}

	frame := s.cfg.Producer()
	if frame == nil {
		return
	}

	if !s.gate.ShouldEmit(time.Now()) {
		s.mu.Lock()
		s.stats.FramesDropped++
		s.mu.Unlock()
		metrics.RecordFrameDropped()
		return
	}

	start := time.Now()
	encoded, err := media.EncodeFrame(frame.Image.Data, s.cfg.MaxDimension, s.cfg.Quality)
	if err != nil {
		s.reportFrameError(err)
		return
	}
	metrics.RecordEncodeDuration(time.Since(start).Seconds())

	msg := message{
		Type:      msgTypeVideoFrame,
		Data:      encoded.DataURL(),
		SessionID: s.SessionID(),
	}
	if err := s.conn.Send(msg); err != nil {
		s.recordSendFailure(err)
		return
	}

	s.mu.Lock()
	s.stats.FramesSent++
	s.lastSentAt = time.Now()
	s.mu.Unlock()
	metrics.RecordFrameSent()
}

// supervise waits for the loops to finish and translates the outcome into
// the terminal state.
func (s *Session) supervise(g *errgroup.Group) {
	err := g.Wait()

	if err == nil || errors.Is(err, context.Canceled) {
		// Stop() already transitioned and reported.
		return
	}

	if errors.Is(err, errRemoteClosed) {
		s.closeFromRemote()
		return
	}

	s.degrade(err)
}

// closeFromRemote handles a definitive, orderly remote closure.
func (s *Session) closeFromRemote() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	cancel := s.cancel
	onClosed := s.cfg.Callbacks.OnClosed
	ended := s.ended
	s.ended = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if !ended {
		metrics.RecordSessionEnd()
	}

	logger.SessionEvent(s.sessionIDOrCorrelation(), StateClosed.String(), "reason", "remote_closed")

	s.fence(onClosed)
}

// degrade moves the session to Degraded and reports the reason exactly once.
// The caller decides whether to start a new session; there is no automatic
// retry.
func (s *Session) degrade(reason error) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateDegraded {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = StateDegraded
	cancel := s.cancel
	cb := s.cfg.Callbacks.OnDegraded
	ended := s.ended
	s.ended = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if !ended && prev != StateConnecting && prev != StateIdle {
		metrics.RecordSessionEnd()
	}

	logger.SessionEvent(s.sessionIDOrCorrelation(), StateDegraded.String(),
		"previous", prev.String(), "reason", reason)

	var final func()
	if cb != nil {
		final = func() { cb(reason) }
	}
	s.fence(final)
}

// failStart records a dial or handshake-send failure during Start. The
// error goes back to the Start caller directly, so no callback fires for it.
func (s *Session) failStart(reason error) {
	s.mu.Lock()
	prev := s.state
	s.state = StateDegraded
	s.mu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.fence(nil)

	logger.SessionEvent(s.correlationID, StateDegraded.String(),
		"previous", prev.String(), "reason", reason)
}

// deliver runs one callback under the delivery lock, skipping it once the
// session is fenced.
func (s *Session) deliver(fn func()) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if s.fenced {
		return
	}
	fn()
}

// fence closes the delivery gate. The first caller wins and delivers the
// terminal callback, if any; later callers are no-ops.
func (s *Session) fence(final func()) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if s.fenced {
		return
	}
	s.fenced = true
	if final != nil {
		final()
	}
}

// reportFrameError surfaces a recoverable per-frame failure without
// affecting the session state.
func (s *Session) reportFrameError(err error) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateDegraded {
		s.mu.Unlock()
		return
	}
	cb := s.cfg.Callbacks.OnFrameError
	s.mu.Unlock()

	metrics.RecordFrameError()
	logger.Warn("frame error", "session_id", s.sessionIDOrCorrelation(), "error", err)

	if cb != nil {
		s.deliver(func() { cb(err) })
	}
}

// recordSendFailure counts a failed send. The condition is logged once, not
// on every subsequent attempt; the receive loop owns the terminal report.
func (s *Session) recordSendFailure(err error) {
	s.mu.Lock()
	s.stats.SendFailures++
	logged := s.sendFailLogged
	s.sendFailLogged = true
	s.mu.Unlock()

	metrics.RecordSendFailure()
	if !logged {
		logger.Warn("frame send failed", "session_id", s.sessionIDOrCorrelation(), "error", err)
	}
}

func (s *Session) ackHandshake() {
	s.mu.Lock()
	if s.state != StateAwaitingAck {
		s.mu.Unlock()
		return
	}
	s.state = StateStreaming
	id := s.sessionID
	s.mu.Unlock()

	if id == "" {
		id = s.correlationID
	}
	logger.SessionEvent(id, StateStreaming.String())
}

func (s *Session) sessionIDOrCorrelation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != "" {
		return s.sessionID
	}
	return s.correlationID
}
