package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/AltairaLabs/SwapKit/client/logger"
	"github.com/AltairaLabs/SwapKit/client/media"
	metrics "github.com/AltairaLabs/SwapKit/client/metrics/prometheus"
)

const (
	videoSwapEndpoint = "/swap/video"
	faceSwapEndpoint  = "/swap/face"
	statusEndpoint    = "/status/"

	// DefaultSubmitTimeout bounds one submission request. Video uploads are
	// large, so the default is generous, but a submission must fail fast
	// rather than hang indefinitely.
	DefaultSubmitTimeout = 120 * time.Second
)

// Submitter performs one-shot batch submissions and status queries against
// the swap service. It never retries a submission automatically: a duplicate
// video upload is expensive and user-visible, so retries are an explicit
// user action.
type Submitter struct {
	baseURL string
	client  *http.Client
	headers http.Header
}

// SubmitterOption configures the submitter.
type SubmitterOption func(*Submitter)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) SubmitterOption {
	return func(s *Submitter) {
		s.client = client
	}
}

// WithHeaders sets headers attached to every request (credentials).
func WithHeaders(headers http.Header) SubmitterOption {
	return func(s *Submitter) {
		s.headers = headers
	}
}

// NewSubmitter creates a submitter for the service at baseURL.
func NewSubmitter(baseURL string, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultSubmitTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseURL returns the configured service base URL.
func (s *Submitter) BaseURL() string {
	return s.baseURL
}

// Submit sends one multipart batch request (reference image + target video)
// and returns the opaque job id assigned by the service. Failures surface as
// *SubmissionError and are never retried here.
func (s *Submitter) Submit(ctx context.Context, source *media.EncodedImage, video Blob) (string, error) {
	if source == nil || len(source.Data) == 0 {
		return "", NewSubmissionError(0, "", ErrEmptySource)
	}
	if len(video.Data) == 0 {
		return "", NewSubmissionError(0, "", ErrEmptyTarget)
	}

	body, contentType, err := buildVideoForm(source, video)
	if err != nil {
		return "", NewSubmissionError(0, "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+videoSwapEndpoint, body)
	if err != nil {
		return "", NewSubmissionError(0, "", err)
	}
	s.applyHeaders(req)
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.RecordJobSubmission(metrics.StatusError)
		return "", NewSubmissionError(0, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordJobSubmission(metrics.StatusError)
		return "", NewSubmissionError(resp.StatusCode, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.RecordJobSubmission(metrics.StatusError)
		return "", submissionRejected(resp.StatusCode, respBody)
	}

	var result struct {
		Status  string `json:"status"`
		TaskID  string `json:"task_id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		metrics.RecordJobSubmission(metrics.StatusError)
		return "", NewSubmissionError(resp.StatusCode, "malformed response", err)
	}
	if result.TaskID == "" {
		metrics.RecordJobSubmission(metrics.StatusError)
		return "", NewSubmissionError(resp.StatusCode, "response carries no task id", nil)
	}

	metrics.RecordJobSubmission(metrics.StatusSuccess)
	logger.JobEvent(result.TaskID, string(JobPending), 0, "message", result.Message)

	return result.TaskID, nil
}

// Status fetches one status snapshot for a job. Errors here are transient
// from the poller's point of view; translation failures included.
func (s *Submitter) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+statusEndpoint+jobID, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request returned %d: %s", resp.StatusCode, string(respBody))
	}

	var raw struct {
		Status   string  `json:"status"`
		Progress float64 `json:"progress"`
		Result   *struct {
			DownloadURL  string `json:"download_url"`
			StreamingURL string `json:"streaming_url"`
		} `json:"result"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("malformed status response: %w", err)
	}

	status := &JobStatus{
		Progress: clampProgress(int(raw.Progress)),
		Detail:   raw.Error,
	}
	switch raw.Status {
	case "pending":
		status.State = JobPending
	case "processing":
		status.State = JobProcessing
	case "completed":
		status.State = JobCompleted
		status.Progress = 100
		if raw.Result != nil {
			status.Result = &ResultLocator{
				DownloadURL:  raw.Result.DownloadURL,
				StreamingURL: raw.Result.StreamingURL,
			}
		}
	case "failed":
		status.State = JobFailed
	default:
		return nil, fmt.Errorf("unexpected job status %q", raw.Status)
	}

	return status, nil
}

// ImageSwapOptions tune the synchronous single-image swap.
type ImageSwapOptions struct {
	// Enhance asks the service to run its enhancement pass on the result.
	Enhance bool

	// Watermark asks the service to stamp the result.
	Watermark bool
}

// SwapImage performs a synchronous single-image swap and returns the swapped
// image bytes.
func (s *Submitter) SwapImage(
	ctx context.Context, source, target *media.EncodedImage, opts ImageSwapOptions,
) ([]byte, error) {
	if source == nil || len(source.Data) == 0 {
		return nil, ErrEmptySource
	}
	if target == nil || len(target.Data) == 0 {
		return nil, ErrEmptyTarget
	}

	start := time.Now()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writeImagePart(writer, "source_img", source); err != nil {
		return nil, err
	}
	if err := writeImagePart(writer, "target_img", target); err != nil {
		return nil, err
	}
	if err := writer.WriteField("enhance_result", strconv.FormatBool(opts.Enhance)); err != nil {
		return nil, fmt.Errorf("failed to write enhance field: %w", err)
	}
	if err := writer.WriteField("add_watermark", strconv.FormatBool(opts.Watermark)); err != nil {
		return nil, fmt.Errorf("failed to write watermark field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+faceSwapEndpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.applyHeaders(req)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.RecordImageSwap(metrics.StatusError, time.Since(start).Seconds())
		return nil, fmt.Errorf("image swap request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordImageSwap(metrics.StatusError, time.Since(start).Seconds())
		return nil, fmt.Errorf("failed to read image swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.RecordImageSwap(metrics.StatusError, time.Since(start).Seconds())
		return nil, submissionRejected(resp.StatusCode, respBody)
	}

	metrics.RecordImageSwap(metrics.StatusSuccess, time.Since(start).Seconds())

	return respBody, nil
}

func (s *Submitter) applyHeaders(req *http.Request) {
	for k, values := range s.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
}

// buildVideoForm assembles the multipart body for a video submission.
func buildVideoForm(source *media.EncodedImage, video Blob) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writeImagePart(writer, "source_img", source); err != nil {
		return nil, "", err
	}

	filename := video.Filename
	if filename == "" {
		filename = "target.mp4"
	}
	part, err := writer.CreateFormFile("target_video", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create video part: %w", err)
	}
	if _, err := part.Write(video.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write video data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func writeImagePart(writer *multipart.Writer, field string, img *media.EncodedImage) error {
	filename := field + ".jpg"
	if img.MIMEType == "image/png" {
		filename = field + ".png"
	}
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", field, err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return fmt.Errorf("failed to write %s data: %w", field, err)
	}
	return nil
}

// submissionRejected translates an error response into a SubmissionError.
func submissionRejected(statusCode int, body []byte) *SubmissionError {
	var errResp struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	detail := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Detail != "" {
			detail = errResp.Detail
		} else if errResp.Message != "" {
			detail = errResp.Message
		}
	}
	return NewSubmissionError(statusCode, detail, nil)
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
