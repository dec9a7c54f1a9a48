// Package upstream talks to the external rename job API using the
// server-held credential.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/basilysf1709/file-renamer-ai/internal/metrics"
	"github.com/basilysf1709/file-renamer-ai/internal/models"
)

const (
	defaultContentType = "application/json"
	maxResponseBytes   = 32 << 20
)

var (
	ErrNotConfigured = errors.New("upstream job API not configured")
	ErrUnreachable   = errors.New("upstream job API unreachable")
	ErrTooLarge      = errors.New("upstream response too large")
)

// StatusError is returned by the typed calls when the job API answers with a
// non-2xx status.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// Response is an upstream reply kept byte-for-byte so it can be relayed.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    metrics.Recorder
	maxBody    int64
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithRecorder(r metrics.Recorder) Option {
	return func(c *Client) { c.metrics = r }
}

// WithMaxResponseBytes sets the largest response body accepted.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithRateLimit caps the aggregate request rate of this client. A
// non-positive limit disables limiting.
func WithRateLimit(limit float64, burst int) Option {
	return func(c *Client) {
		if limit <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(limit), max(burst, 1))
	}
}

func New(baseURL, apiKey string, timeout time.Duration, opts ...Option) (*Client, error) {
	if baseURL == "" || apiKey == "" {
		return nil, ErrNotConfigured
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    metrics.NewNoop(),
		maxBody:    maxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SubmitRename forwards a multipart rename submission.
func (c *Client) SubmitRename(ctx context.Context, form *Form) (Response, error) {
	body, contentType, err := form.Encode()
	if err != nil {
		return Response{}, err
	}
	return c.do(ctx, "rename", http.MethodPost, "/v1/jobs/rename", body, contentType)
}

// Preview forwards a single-image preview request.
func (c *Client) Preview(ctx context.Context, form *Form) (Response, error) {
	body, contentType, err := form.Encode()
	if err != nil {
		return Response{}, err
	}
	return c.do(ctx, "preview", http.MethodPost, "/v1/preview", body, contentType)
}

func (c *Client) ProgressRaw(ctx context.Context, jobID string) (Response, error) {
	return c.do(ctx, "progress", http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/progress", nil, "")
}

func (c *Client) ResultsRaw(ctx context.Context, jobID string) (Response, error) {
	return c.do(ctx, "results", http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/results", nil, "")
}

// Progress returns the decoded progress snapshot for jobID.
func (c *Client) Progress(ctx context.Context, jobID string) (models.JobProgress, error) {
	var p models.JobProgress
	resp, err := c.ProgressRaw(ctx, jobID)
	if err != nil {
		return p, err
	}
	return p, decode(resp, &p)
}

// Results returns the decoded result state for jobID.
func (c *Client) Results(ctx context.Context, jobID string) (models.JobResult, error) {
	var r models.JobResult
	resp, err := c.ResultsRaw(ctx, jobID)
	if err != nil {
		return r, err
	}
	return r, decode(resp, &r)
}

func decode(resp Response, v any) error {
	if !resp.OK() {
		return &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("failed to decode upstream response: %w", err)
	}
	return nil
}

// ParseSubmit extracts the job id from a successful submission body.
func ParseSubmit(body []byte) (models.SubmitResponse, error) {
	var sr models.SubmitResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return sr, fmt.Errorf("failed to decode submission response: %w", err)
	}
	if sr.JobID == "" {
		return sr, errors.New("submission response has no job_id")
	}
	return sr, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body []byte, contentType string) (Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Response{}, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveUpstreamRequest(endpoint, 0, time.Since(start))
		return Response{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	c.metrics.ObserveUpstreamRequest(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return Response{}, fmt.Errorf("%w: reading body: %v", ErrUnreachable, err)
	}
	if int64(len(data)) > c.maxBody {
		return Response{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, endpoint, c.maxBody)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = defaultContentType
	}
	return Response{StatusCode: resp.StatusCode, ContentType: ct, Body: data}, nil
}
