package live

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/SwapKit/client/media"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// wireMsg mirrors the protocol envelope for test servers.
type wireMsg struct {
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// scriptedServer runs handler for each WebSocket connection.
func scriptedServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsEndpoint(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func makeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func testReference(t *testing.T) *media.EncodedImage {
	t.Helper()
	return &media.EncodedImage{Data: makeJPEG(t, 8, 8), MIMEType: media.MIMETypeJPEG}
}

func staticProducer(data []byte) FrameProducer {
	return func() *media.Frame {
		return &media.Frame{
			Image:     media.EncodedImage{Data: data},
			Timestamp: time.Now(),
		}
	}
}

func processedPayload() string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("processed-bytes"))
}

// sessionEvents funnels callbacks into channels for assertions.
type sessionEvents struct {
	frames    chan *media.Frame
	degraded  chan error
	closed    chan struct{}
	frameErrs chan error
}

func newSessionEvents() *sessionEvents {
	return &sessionEvents{
		frames:    make(chan *media.Frame, 64),
		degraded:  make(chan error, 4),
		closed:    make(chan struct{}, 4),
		frameErrs: make(chan error, 16),
	}
}

func (e *sessionEvents) callbacks() Callbacks {
	return Callbacks{
		OnProcessedFrame: func(frame *media.Frame) { e.frames <- frame },
		OnDegraded:       func(reason error) { e.degraded <- reason },
		OnClosed:         func() { e.closed <- struct{}{} },
		OnFrameError:     func(err error) { e.frameErrs <- err },
	}
}

func waitFor[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func testSessionConfig(endpoint string, t *testing.T, events *sessionEvents) SessionConfig {
	t.Helper()
	return SessionConfig{
		Endpoint:        endpoint,
		Reference:       testReference(t),
		Producer:        staticProducer(makeJPEG(t, 16, 16)),
		Callbacks:       events.callbacks(),
		TargetFPS:       200,
		CaptureInterval: 2 * time.Millisecond,
	}
}

func TestSessionHandshakeAndStreaming(t *testing.T) {
	server := scriptedServer(t, func(conn *websocket.Conn) {
		var first wireMsg
		require.NoError(t, conn.ReadJSON(&first))
		assert.Equal(t, "source_image", first.Type)
		assert.NotEmpty(t, first.Data)

		require.NoError(t, conn.WriteJSON(wireMsg{Type: "session_created", SessionID: "srv-1"}))
		require.NoError(t, conn.WriteJSON(wireMsg{Type: "source_image_processed"}))

		for {
			var msg wireMsg
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "video_frame" {
				if err := conn.WriteJSON(wireMsg{Type: "processed_frame", Data: processedPayload()}); err != nil {
					return
				}
			}
		}
	})
	defer server.Close()

	events := newSessionEvents()
	s, err := NewSession(testSessionConfig(wsEndpoint(server), t, events))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	frame := waitFor(t, events.frames, "processed frame")
	assert.Equal(t, []byte("processed-bytes"), frame.Image.Data)
	assert.Equal(t, int64(1), frame.Seq)

	assert.Equal(t, StateStreaming, s.State())
	assert.Equal(t, "srv-1", s.SessionID())
	assert.NotEmpty(t, s.CorrelationID())

	stats := s.Stats()
	assert.Positive(t, stats.FramesSent)
	assert.Positive(t, stats.FramesRecv)
	assert.False(t, s.LastSentAt().IsZero())
	assert.False(t, s.LastReceivedAt().IsZero())

	s.Stop()
	waitFor(t, events.closed, "closed event")
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionStopBeforeAckSuppressesCallbacks(t *testing.T) {
	gotReference := make(chan struct{})
	proceed := make(chan struct{})
	server := scriptedServer(t, func(conn *websocket.Conn) {
		var first wireMsg
		if err := conn.ReadJSON(&first); err != nil {
			return
		}
		close(gotReference)
		<-proceed

		// These arrive after the client stopped and must be discarded.
		_ = conn.WriteJSON(wireMsg{Type: "session_created", SessionID: "late"})
		_ = conn.WriteJSON(wireMsg{Type: "processed_frame", Data: processedPayload()})
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	events := newSessionEvents()
	s, err := NewSession(testSessionConfig(wsEndpoint(server), t, events))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	waitFor(t, gotReference, "reference image on server")
	s.Stop()
	close(proceed)

	waitFor(t, events.closed, "closed event")
	assert.Equal(t, StateClosed, s.State())

	select {
	case frame := <-events.frames:
		t.Fatalf("processed frame delivered after stop: %+v", frame)
	case err := <-events.degraded:
		t.Fatalf("degraded after stop: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	// Idempotent: a second stop emits nothing new.
	s.Stop()
	select {
	case <-events.closed:
		t.Fatal("closed fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionDegradedOnAbruptTransportLoss(t *testing.T) {
	server := scriptedServer(t, func(conn *websocket.Conn) {
		var first wireMsg
		if err := conn.ReadJSON(&first); err != nil {
			return
		}
		// Ack, then drop the connection without a close frame.
		_ = conn.WriteJSON(wireMsg{Type: "session_created", SessionID: "srv-1"})
		time.Sleep(50 * time.Millisecond)
		_ = conn.Close()
	})
	defer server.Close()

	events := newSessionEvents()
	s, err := NewSession(testSessionConfig(wsEndpoint(server), t, events))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	reason := waitFor(t, events.degraded, "degraded event")
	assert.Error(t, reason)
	assert.Equal(t, StateDegraded, s.State())

	// Reported once, not on every subsequent failure.
	select {
	case err := <-events.degraded:
		t.Fatalf("degraded reported twice: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	// Stop after the degraded report reaches Closed without a second
	// terminal callback.
	s.Stop()
	assert.Equal(t, StateClosed, s.State())
	select {
	case <-events.closed:
		t.Fatal("closed reported after degraded")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionClosedOnRemoteNormalClosure(t *testing.T) {
	server := scriptedServer(t, func(conn *websocket.Conn) {
		var first wireMsg
		if err := conn.ReadJSON(&first); err != nil {
			return
		}
		_ = conn.WriteJSON(wireMsg{Type: "session_created", SessionID: "srv-1"})

		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	events := newSessionEvents()
	s, err := NewSession(testSessionConfig(wsEndpoint(server), t, events))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	waitFor(t, events.closed, "closed event")
	assert.Equal(t, StateClosed, s.State())

	select {
	case err := <-events.degraded:
		t.Fatalf("normal closure reported as degraded: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionHandshakeRejected(t *testing.T) {
	server := scriptedServer(t, func(conn *websocket.Conn) {
		var first wireMsg
		if err := conn.ReadJSON(&first); err != nil {
			return
		}
		_ = conn.WriteJSON(wireMsg{Type: "error", Message: "no face detected"})
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	events := newSessionEvents()
	s, err := NewSession(testSessionConfig(wsEndpoint(server), t, events))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	reason := waitFor(t, events.degraded, "degraded event")

	var hsErr *HandshakeError
	require.ErrorAs(t, reason, &hsErr)
	assert.Equal(t, "no face detected", hsErr.Reason)
	assert.Equal(t, StateDegraded, s.State())
}

func TestSessionHandshakeTimeout(t *testing.T) {
	server := scriptedServer(t, func(conn *websocket.Conn) {
		var first wireMsg
		if err := conn.ReadJSON(&first); err != nil {
			return
		}
		// Never acknowledge.
		time.Sleep(time.Second)
	})
	defer server.Close()

	events := newSessionEvents()
	cfg := testSessionConfig(wsEndpoint(server), t, events)
	cfg.HandshakeTimeout = 100 * time.Millisecond

	s, err := NewSession(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	reason := waitFor(t, events.degraded, "degraded event")

	var hsErr *HandshakeError
	require.ErrorAs(t, reason, &hsErr)
	assert.Equal(t, StateDegraded, s.State())
}

func TestSessionMalformedInboundIsRecoverable(t *testing.T) {
	server := scriptedServer(t, func(conn *websocket.Conn) {
		var first wireMsg
		if err := conn.ReadJSON(&first); err != nil {
			return
		}
		_ = conn.WriteJSON(wireMsg{Type: "session_created", SessionID: "srv-1"})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{{{not json"))
		_ = conn.WriteJSON(wireMsg{Type: "processed_frame", Data: processedPayload()})

		for {
			var msg wireMsg
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
		}
	})
	defer server.Close()

	events := newSessionEvents()
	s, err := NewSession(testSessionConfig(wsEndpoint(server), t, events))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	frameErr := waitFor(t, events.frameErrs, "frame error")
	assert.Error(t, frameErr)

	waitFor(t, events.frames, "processed frame after malformed message")
	assert.Equal(t, StateStreaming, s.State())

	s.Stop()
}

func TestSessionConfigValidation(t *testing.T) {
	ref := testReference(t)
	producer := staticProducer(makeJPEG(t, 8, 8))

	_, err := NewSession(SessionConfig{Reference: ref, Producer: producer})
	require.Error(t, err)

	_, err = NewSession(SessionConfig{Endpoint: "ws://example.com", Producer: producer})
	assert.ErrorIs(t, err, ErrNoReference)

	_, err = NewSession(SessionConfig{Endpoint: "ws://example.com", Reference: ref})
	assert.ErrorIs(t, err, ErrNoProducer)
}

func TestSessionStartTwice(t *testing.T) {
	server := scriptedServer(t, func(conn *websocket.Conn) {
		var first wireMsg
		if err := conn.ReadJSON(&first); err != nil {
			return
		}
		_ = conn.WriteJSON(wireMsg{Type: "session_created", SessionID: "srv-1"})
		for {
			var msg wireMsg
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
		}
	})
	defer server.Close()

	events := newSessionEvents()
	s, err := NewSession(testSessionConfig(wsEndpoint(server), t, events))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestSessionDialFailure(t *testing.T) {
	events := newSessionEvents()
	cfg := testSessionConfig("ws://127.0.0.1:1", t, events)

	s, err := NewSession(cfg)
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDegraded, s.State())

	// The failure is returned from Start, not also delivered to OnDegraded.
	select {
	case reason := <-events.degraded:
		t.Fatalf("start failure reported twice: %v", reason)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionStopWaitsForInFlightDelivery(t *testing.T) {
	server := scriptedServer(t, func(conn *websocket.Conn) {
		var first wireMsg
		if err := conn.ReadJSON(&first); err != nil {
			return
		}
		_ = conn.WriteJSON(wireMsg{Type: "session_created", SessionID: "srv-1"})
		_ = conn.WriteJSON(wireMsg{Type: "processed_frame", Data: processedPayload()})
		for {
			var msg wireMsg
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
		}
	})
	defer server.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	var orderMu sync.Mutex
	var order []string
	record := func(event string) {
		orderMu.Lock()
		order = append(order, event)
		orderMu.Unlock()
	}

	events := newSessionEvents()
	cfg := testSessionConfig(wsEndpoint(server), t, events)
	cfg.Callbacks = Callbacks{
		OnProcessedFrame: func(*media.Frame) {
			close(entered)
			<-release
			record("frame delivered")
		},
		OnClosed: func() { record("closed") },
	}

	s, err := NewSession(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	waitFor(t, entered, "frame delivery to start")

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	// Stop must not return while the frame delivery is still executing.
	select {
	case <-stopped:
		t.Fatal("Stop returned during an in-flight frame delivery")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	waitFor(t, stopped, "Stop to return")

	orderMu.Lock()
	defer orderMu.Unlock()
	require.Equal(t, []string{"frame delivered", "closed"}, order)
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "closed", StateClosed.String())
}
