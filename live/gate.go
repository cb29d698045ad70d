package live

import (
	"time"

	"golang.org/x/time/rate"
)

// DefaultTargetFPS is the default outbound frame rate for live streaming.
const DefaultTargetFPS = 10.0

// FrameGate limits how often the session may emit a frame, decoupling
// capture cadence from network cadence. It is a decision function, not a
// scheduler: it never blocks, and a false answer means the frame is dropped,
// never queued. Stale frames are worse than missing frames for a live view.
type FrameGate struct {
	limiter *rate.Limiter
}

// NewFrameGate creates a gate targeting the given frames per second.
// Non-positive values fall back to DefaultTargetFPS.
func NewFrameGate(targetFPS float64) *FrameGate {
	if targetFPS <= 0 {
		targetFPS = DefaultTargetFPS
	}
	// Burst of 1 keeps emissions within rate*window+1 over any window.
	return &FrameGate{limiter: rate.NewLimiter(rate.Limit(targetFPS), 1)}
}

// ShouldEmit reports whether a frame may be emitted at the given time and,
// when true, consumes the token. Intended for a single producer loop; safe
// for concurrent use regardless.
func (g *FrameGate) ShouldEmit(now time.Time) bool {
	return g.limiter.AllowN(now, 1)
}
