// Package prometheus provides Prometheus metrics for the swap client.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "swapkit"

// Status constants for metric labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Frame status label values.
const (
	frameSent       = "sent"
	frameDropped    = "dropped"
	frameReceived   = "received"
	frameError      = "error"
	frameSendFailed = "send_failed"
)

var (
	// framesTotal counts live frames by outcome.
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of live frames by outcome",
		},
		[]string{"outcome"}, // sent, dropped, received, error, send_failed
	)

	// frameEncodeDuration is a histogram of frame encode duration in seconds.
	frameEncodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_encode_duration_seconds",
			Help:      "Histogram of frame encode duration in seconds",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		},
	)

	// liveSessionsActive is a gauge of currently active live sessions.
	liveSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions_active",
			Help:      "Number of currently active live sessions",
		},
	)

	// jobSubmissionsTotal counts batch job submissions.
	jobSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_submissions_total",
			Help:      "Total number of batch job submissions",
		},
		[]string{"status"}, // success, error
	)

	// jobPollsTotal counts job status polls.
	jobPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_polls_total",
			Help:      "Total number of job status polls",
		},
		[]string{"status"}, // success, error
	)

	// jobDuration is a histogram of batch job duration from submission to
	// terminal state.
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of batch jobs from submission to terminal state",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"}, // completed, failed
	)

	// imageSwapDuration is a histogram of single-image swap request duration.
	imageSwapDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_swap_duration_seconds",
			Help:      "Duration of single-image swap requests in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"status"}, // success, error
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		framesTotal,
		frameEncodeDuration,
		liveSessionsActive,
		jobSubmissionsTotal,
		jobPollsTotal,
		jobDuration,
		imageSwapDuration,
	}
)

// RecordSessionStart records a live session start.
func RecordSessionStart() {
	liveSessionsActive.Inc()
}

// RecordSessionEnd records a live session end.
func RecordSessionEnd() {
	liveSessionsActive.Dec()
}

// RecordFrameSent records a frame sent to the service.
func RecordFrameSent() {
	framesTotal.WithLabelValues(frameSent).Inc()
}

// RecordFrameDropped records a frame dropped by the rate gate.
func RecordFrameDropped() {
	framesTotal.WithLabelValues(frameDropped).Inc()
}

// RecordFrameReceived records a processed frame received from the service.
func RecordFrameReceived() {
	framesTotal.WithLabelValues(frameReceived).Inc()
}

// RecordFrameError records a recoverable per-frame failure.
func RecordFrameError() {
	framesTotal.WithLabelValues(frameError).Inc()
}

// RecordSendFailure records a send attempted while the transport was not ready.
func RecordSendFailure() {
	framesTotal.WithLabelValues(frameSendFailed).Inc()
}

// RecordEncodeDuration records the duration of one frame encode.
func RecordEncodeDuration(durationSeconds float64) {
	frameEncodeDuration.Observe(durationSeconds)
}

// RecordJobSubmission records a batch job submission attempt.
func RecordJobSubmission(status string) {
	jobSubmissionsTotal.WithLabelValues(status).Inc()
}

// RecordPoll records one job status poll.
func RecordPoll(status string) {
	jobPollsTotal.WithLabelValues(status).Inc()
}

// RecordJobEnd records a job reaching a terminal state.
func RecordJobEnd(status string, durationSeconds float64) {
	jobDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordImageSwap records a single-image swap request.
func RecordImageSwap(status string, durationSeconds float64) {
	imageSwapDuration.WithLabelValues(status).Observe(durationSeconds)
}
