package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields.
// These keys are used to store values in context.Context that will be
// automatically extracted and added to log entries.
const (
	// ContextKeySessionID identifies the live streaming session.
	ContextKeySessionID contextKey = "session_id"

	// ContextKeyJobID identifies the batch job.
	ContextKeyJobID contextKey = "job_id"

	// ContextKeyRequestID identifies the individual request.
	ContextKeyRequestID contextKey = "request_id"

	// ContextKeyCorrelationID is the client-generated id used before the
	// service assigns its own session or job id.
	ContextKeyCorrelationID contextKey = "correlation_id"

	// ContextKeyEndpoint identifies the service endpoint being called.
	ContextKeyEndpoint contextKey = "endpoint"
)

// allContextKeys lists all context keys that should be extracted for logging.
var allContextKeys = []contextKey{
	ContextKeySessionID,
	ContextKeyJobID,
	ContextKeyRequestID,
	ContextKeyCorrelationID,
	ContextKeyEndpoint,
}

// WithSessionID returns a new context with the session ID set.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithJobID returns a new context with the job ID set.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// WithRequestID returns a new context with the request ID set.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithCorrelationID returns a new context with the correlation ID set.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationID, correlationID)
}

// WithEndpoint returns a new context with the endpoint set.
func WithEndpoint(ctx context.Context, endpoint string) context.Context {
	return context.WithValue(ctx, ContextKeyEndpoint, endpoint)
}
