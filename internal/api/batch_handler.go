package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kwestin/docsmith-api/internal/api/shared"
	"github.com/kwestin/docsmith-api/internal/domain"
	"github.com/kwestin/docsmith-api/internal/service"
	"github.com/kwestin/docsmith-api/internal/store"
)

// CreateBatchRequest is the request body for a bulk source submission.
type CreateBatchRequest struct {
	URLs []string `json:"urls" validate:"required,min=1,dive,required"`

	// Category optionally pre-selects a classification for every asset
	// this batch produces.
	Category string `json:"category,omitempty"`
}

// BatchSubmitter is the batch service surface the handler depends on.
type BatchSubmitter interface {
	SubmitSources(ctx context.Context, contractID, createdBy uuid.UUID, urls []string, opts domain.BatchOptions) (*service.BatchSubmissionResult, error)
	GetProgress(ctx context.Context, batchID uuid.UUID) (*service.BatchProgress, error)
}

// BatchHandler handles batch-related HTTP requests.
type BatchHandler struct {
	batches BatchSubmitter
	logger  *slog.Logger
}

// NewBatchHandler creates a BatchHandler.
func NewBatchHandler(batches BatchSubmitter, logger *slog.Logger) *BatchHandler {
	if batches == nil {
		panic("batch service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &BatchHandler{
		batches: batches,
		logger:  logger.With(slog.String("component", "batch_handler")),
	}
}

// CreateBatch handles POST /api/contracts/{contractID}/sources requests.
// It responds 202 as soon as every submission call has been made; job
// results arrive later via the worker webhook.
func (h *BatchHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(shared.UserIDContextKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "User ID not found or invalid")
		return
	}

	contractID, err := uuid.Parse(chi.URLParam(r, "contractID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid contract ID")
		return
	}

	var req CreateBatchRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	result, err := h.batches.SubmitSources(r.Context(), contractID, userID, req.URLs,
		domain.BatchOptions{Category: req.Category})
	if err != nil {
		if errors.Is(err, service.ErrNoInputs) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "No usable source URLs provided")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to submit sources", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, result)
}

// GetBatch handles GET /api/batches/{batchID} requests, returning the
// batch counters alongside every source's current state.
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid batch ID")
		return
	}

	progress, err := h.batches.GetProgress(r.Context(), batchID)
	if err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Batch not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to load batch", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, batchProgressToResponse(progress))
}
