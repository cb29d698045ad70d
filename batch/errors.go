package batch

import "errors"

// Common batch errors.
var (
	// ErrEmptySource is returned when the reference image is missing or empty.
	ErrEmptySource = errors.New("source image cannot be empty")

	// ErrEmptyTarget is returned when the target payload is missing or empty.
	ErrEmptyTarget = errors.New("target payload cannot be empty")

	// ErrPollingFailed is returned when consecutive poll failures exceed the
	// configured threshold.
	ErrPollingFailed = errors.New("job status polling failed repeatedly")

	// ErrNoResult is returned when a completed job carries no artifact locator.
	ErrNoResult = errors.New("completed job has no result locator")
)

// SubmissionError reports a rejected or unreachable submission. Submission is
// never retried automatically; the error is surfaced for an explicit user
// retry.
type SubmissionError struct {
	// StatusCode is the HTTP status of the rejection, zero when the request
	// never reached the service.
	StatusCode int

	// Detail is the service-provided message, when available.
	Detail string

	// Cause is the underlying error (if any).
	Cause error
}

// Error implements the error interface.
func (e *SubmissionError) Error() string {
	msg := "job submission failed"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SubmissionError) Unwrap() error {
	return e.Cause
}

// NewSubmissionError creates a new SubmissionError.
func NewSubmissionError(statusCode int, detail string, cause error) *SubmissionError {
	return &SubmissionError{
		StatusCode: statusCode,
		Detail:     detail,
		Cause:      cause,
	}
}

// JobError reports a service-side terminal job failure with the detail the
// service returned.
type JobError struct {
	// JobID identifies the failed job.
	JobID string

	// Detail is the service-provided failure detail.
	Detail string
}

// Error implements the error interface.
func (e *JobError) Error() string {
	if e.Detail != "" {
		return "job " + e.JobID + " failed: " + e.Detail
	}
	return "job " + e.JobID + " failed"
}
