// Package client talks to the gateway on behalf of an end user. It submits
// rename jobs and implements poller.Source against the proxy routes, so the
// caller can follow a job with the same polling loop the worker uses.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/basilysf1709/file-renamer-ai/internal/models"
	"github.com/basilysf1709/file-renamer-ai/internal/upstream"
)

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
	Need       int
	Has        int
}

func (e *APIError) Error() string {
	switch {
	case e.Code == "insufficient_credits":
		return fmt.Sprintf("insufficient credits: need %d, have %d", e.Need, e.Has)
	case e.Detail != "":
		return fmt.Sprintf("gateway returned %d %s: %s", e.StatusCode, e.Code, e.Detail)
	case e.Code != "":
		return fmt.Sprintf("gateway returned %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("gateway returned %d", e.StatusCode)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Credits(ctx context.Context) (int, error) {
	var resp models.CreditsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/credits", nil, "", &resp); err != nil {
		return 0, err
	}
	return resp.Credits, nil
}

// Submit uploads files with prompt and returns the accepted job.
func (c *Client) Submit(ctx context.Context, prompt string, files []upstream.File) (models.SubmitResponse, error) {
	form := &upstream.Form{}
	if prompt != "" {
		form.AddField("user_prompt", prompt)
	}
	for _, f := range files {
		f.Field = "files"
		form.AddFile(f)
	}
	body, contentType, err := form.Encode()
	if err != nil {
		return models.SubmitResponse{}, err
	}

	var resp models.SubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/jobs/rename", body, contentType, &resp); err != nil {
		return models.SubmitResponse{}, err
	}
	if resp.JobID == "" {
		return resp, fmt.Errorf("gateway accepted the submission without a job id")
	}
	return resp, nil
}

func (c *Client) Progress(ctx context.Context, jobID string) (models.JobProgress, error) {
	var p models.JobProgress
	err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID)+"/progress", nil, "", &p)
	return p, err
}

func (c *Client) Results(ctx context.Context, jobID string) (models.JobResult, error) {
	var r models.JobResult
	err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID)+"/results", nil, "", &r)
	return r, err
}

// Job returns the gateway's tracked record for one of the caller's jobs.
func (c *Client) Job(ctx context.Context, jobID string) (models.JobRecord, error) {
	var rec models.JobRecord
	err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, "", &rec)
	return rec, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, contentType string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
			Need   int    `json:"need"`
			Has    int    `json:"has"`
		}
		if json.Unmarshal(data, &envelope) == nil {
			apiErr.Code, apiErr.Detail = envelope.Error, envelope.Detail
			apiErr.Need, apiErr.Has = envelope.Need, envelope.Has
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
