package live

import "errors"

// Common live session errors.
var (
	// ErrAlreadyStarted is returned when Start is called twice on a session.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrNoReference is returned when no reference image is configured.
	ErrNoReference = errors.New("reference image is required")

	// ErrNoProducer is returned when no frame producer is configured.
	ErrNoProducer = errors.New("frame producer is required")

	// errRemoteClosed signals a definitive remote closure of the transport,
	// which ends the session in Closed rather than Degraded.
	errRemoteClosed = errors.New("remote closed connection")
)

// HandshakeError reports that the service rejected or never acknowledged the
// reference image, so the session could not reach the streaming state.
// It is structural: the session moves to Degraded and the caller decides
// whether to start again.
type HandshakeError struct {
	// Reason is the service-provided detail, when available.
	Reason string
}

// Error implements the error interface.
func (e *HandshakeError) Error() string {
	if e.Reason != "" {
		return "live: handshake failed: " + e.Reason
	}
	return "live: handshake failed"
}
