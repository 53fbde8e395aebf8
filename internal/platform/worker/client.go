// Package worker provides the HTTP client for the external processing
// worker service. Submissions are fire-and-forget: the synchronous
// response only acknowledges the job, and the actual outcome arrives
// later on the webhook endpoint (or is pulled via GetRun during
// reconciliation).
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/kwestin/docsmith-api/internal/config"
)

// Run status values reported by the worker's job store.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// ErrRunNotFound indicates the worker has no record of the requested run.
var ErrRunNotFound = errors.New("worker run not found")

// ScrapeRequest describes one URL-ingestion job.
type ScrapeRequest struct {
	URL string `json:"url"`

	// Metadata is echoed back verbatim in the webhook payload and is how
	// the callback handler finds its way back to our rows.
	Metadata map[string]string `json:"metadata"`
}

// GenerationRequest describes one deliverable-generation job.
type GenerationRequest struct {
	Brief    string            `json:"brief"`
	Context  string            `json:"context"`
	Metadata map[string]string `json:"metadata"`
}

// SubmitResponse is the synchronous acknowledgment returned by the worker.
type SubmitResponse struct {
	JobID string `json:"job_id"`
	RunID string `json:"run_id,omitempty"`
}

// JobOutput is the typed success payload of a finished job, both in
// webhook deliveries and in GetRun lookups.
type JobOutput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Summary string `json:"summary,omitempty"`
}

// RunResult is the worker's view of a run, as returned by GetRun.
type RunResult struct {
	JobID  string     `json:"job_id"`
	Status string     `json:"status"`
	Output *JobOutput `json:"output,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Client talks to the external worker service over HTTP.
type Client struct {
	baseURL     string
	apiKey      string
	callbackURL string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a worker client from configuration. The configured
// submit timeout bounds every outbound call.
func NewClient(cfg config.WorkerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.SubmitTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		callbackURL: cfg.CallbackURL,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger.With(slog.String("component", "worker_client")),
	}
}

// SubmitScrape dispatches one scrape job. Single attempt: a failure here
// is terminal for the item and the caller records it as such.
func (c *Client) SubmitScrape(ctx context.Context, req ScrapeRequest) (*SubmitResponse, error) {
	body := map[string]any{
		"type":         "scrape",
		"url":          req.URL,
		"metadata":     req.Metadata,
		"callback_url": c.callbackURL,
	}
	return c.submit(ctx, body)
}

// SubmitGeneration dispatches one deliverable-generation job.
func (c *Client) SubmitGeneration(ctx context.Context, req GenerationRequest) (*SubmitResponse, error) {
	body := map[string]any{
		"type":         "generation",
		"brief":        req.Brief,
		"context":      req.Context,
		"metadata":     req.Metadata,
		"callback_url": c.callbackURL,
	}
	return c.submit(ctx, body)
}

func (c *Client) submit(ctx context.Context, body map[string]any) (*SubmitResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submission: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build submission request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submission request failed: %w", err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("worker rejected submission: status %d", resp.StatusCode)
	}

	var ack SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("failed to decode submission response: %w", err)
	}
	if ack.JobID == "" {
		return nil, errors.New("worker returned no job_id")
	}

	return &ack, nil
}

// GetRun looks up a run directly in the worker's job store. Used by
// reconciliation when a webhook never arrived. Transient failures are
// retried a few times since this path is already a recovery path and a
// flaky lookup would force the operator to try again manually.
func (c *Client) GetRun(ctx context.Context, runID string) (*RunResult, error) {
	var result *RunResult

	err := retry.Do(
		func() error {
			r, err := c.getRunOnce(ctx, runID)
			if err != nil {
				return err
			}
			result = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrRunNotFound)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Client) getRunOnce(ctx context.Context, runID string) (*RunResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/runs/"+runID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build run lookup request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("run lookup request failed: %w", err)
	}
	defer c.closeBody(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("run lookup failed: status %d", resp.StatusCode)
	}

	var result RunResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode run lookup response: %w", err)
	}

	return &result, nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		c.logger.Debug("failed to drain response body", "error", err)
	}
	if err := body.Close(); err != nil {
		c.logger.Debug("failed to close response body", "error", err)
	}
}
