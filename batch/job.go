// Package batch manages asynchronous face-swap jobs: one-shot multipart
// submission, fixed-interval status polling until a terminal state, and
// retrieval of the produced artifact. It also exposes the synchronous
// single-image swap endpoint.
package batch

// JobState is a job lifecycle state. Jobs move forward-only:
// Submitting -> Pending -> Processing -> Completed or Failed.
type JobState string

// Job states.
const (
	JobSubmitting JobState = "submitting"
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// Terminal reports whether no further transition can occur from this state.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ResultLocator points at the produced artifact of a completed job.
type ResultLocator struct {
	// DownloadURL retrieves the artifact as a file.
	DownloadURL string

	// StreamingURL serves the artifact for progressive playback. Optional.
	StreamingURL string
}

// JobStatus is one observed snapshot of a job, translated from the service's
// raw status payload.
type JobStatus struct {
	// State is the translated lifecycle state.
	State JobState

	// Progress is the completion percentage in [0,100].
	Progress int

	// Result is set only when State is JobCompleted.
	Result *ResultLocator

	// Detail is the service-provided failure detail, set only when State is
	// JobFailed.
	Detail string
}

// Blob is an opaque binary payload with a filename hint for multipart upload.
type Blob struct {
	Data     []byte
	Filename string
}
