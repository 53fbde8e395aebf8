package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwestin/docsmith-api/internal/config"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	return NewClient(config.WorkerConfig{
		BaseURL:       serverURL,
		APIKey:        "test-api-key",
		CallbackURL:   "https://api.example.com/api/webhooks/worker",
		SubmitTimeout: 5 * time.Second,
	}, nil)
}

func TestSubmitScrape_Success(t *testing.T) {
	var gotBody map[string]any
	var gotAuth, gotContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/jobs", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(SubmitResponse{JobID: "job-1", RunID: "run-1"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ack, err := client.SubmitScrape(context.Background(), ScrapeRequest{
		URL:      "https://example.com/doc",
		Metadata: map[string]string{"source_id": "abc"},
	})
	require.NoError(t, err)

	assert.Equal(t, "job-1", ack.JobID)
	assert.Equal(t, "run-1", ack.RunID)
	assert.Equal(t, "Bearer test-api-key", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "scrape", gotBody["type"])
	assert.Equal(t, "https://example.com/doc", gotBody["url"])
	assert.Equal(t, "https://api.example.com/api/webhooks/worker", gotBody["callback_url"])
	metadata, ok := gotBody["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc", metadata["source_id"])
}

func TestSubmitGeneration_Success(t *testing.T) {
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(SubmitResponse{JobID: "job-gen"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ack, err := client.SubmitGeneration(context.Background(), GenerationRequest{
		Brief:    "Summarize the renewal terms",
		Context:  "## MSA\n...",
		Metadata: map[string]string{"deliverable_id": "def"},
	})
	require.NoError(t, err)

	assert.Equal(t, "job-gen", ack.JobID)
	assert.Equal(t, "generation", gotBody["type"])
	assert.Equal(t, "Summarize the renewal terms", gotBody["brief"])
}

func TestSubmit_Rejected(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.SubmitScrape(context.Background(), ScrapeRequest{URL: "https://example.com"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Equal(t, int32(1), calls.Load(), "submission must not be retried")
}

func TestSubmit_MissingJobID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"run_id": "run-1"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.SubmitScrape(context.Background(), ScrapeRequest{URL: "https://example.com"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no job_id")
}

func TestGetRun_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/runs/run-1", r.URL.Path)
		require.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(RunResult{
			JobID:  "job-1",
			Status: RunStatusCompleted,
			Output: &JobOutput{Title: "Doc", Content: "body"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.GetRun(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, result.Status)
	require.NotNil(t, result.Output)
	assert.Equal(t, "Doc", result.Output.Title)
}

func TestGetRun_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "temporary", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(RunResult{JobID: "job-1", Status: RunStatusRunning})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.GetRun(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, RunStatusRunning, result.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetRun_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.GetRun(context.Background(), "run-missing")

	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.Equal(t, int32(1), calls.Load())
}
