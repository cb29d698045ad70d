package live

// Wire message types exchanged with the live-processing endpoint. All
// messages are JSON text frames with a "type" discriminator; image payloads
// are base64 JPEG data URLs.
const (
	msgTypeSessionCreated       = "session_created"
	msgTypeSourceImage          = "source_image"
	msgTypeSourceImageProcessed = "source_image_processed"
	msgTypeVideoFrame           = "video_frame"
	msgTypeProcessedFrame       = "processed_frame"
	msgTypeError                = "error"
	msgTypePing                 = "ping"
	msgTypePong                 = "pong"
)

// message is the envelope for every live-protocol frame, inbound and
// outbound. Unused fields are omitted on the wire.
type message struct {
	Type      string  `json:"type"`
	Data      string  `json:"data,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	Message   string  `json:"message,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}
