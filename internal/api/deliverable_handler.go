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

// GenerationStarter starts deliverable generation jobs.
type GenerationStarter interface {
	StartGeneration(ctx context.Context, deliverableID uuid.UUID) (*domain.GenerationState, error)
}

// Reconciler recovers entities whose webhook never arrived.
type Reconciler interface {
	ReconcileDeliverable(ctx context.Context, deliverableID uuid.UUID) (*service.ReconcileReport, error)
	ReconcileSource(ctx context.Context, sourceID uuid.UUID) (*service.ReconcileReport, error)
}

// DeliverableHandler handles generation and reconciliation HTTP requests.
type DeliverableHandler struct {
	generation GenerationStarter
	reconcile  Reconciler
	logger     *slog.Logger
}

// NewDeliverableHandler creates a DeliverableHandler.
func NewDeliverableHandler(
	generation GenerationStarter,
	reconcile Reconciler,
	logger *slog.Logger,
) *DeliverableHandler {
	if generation == nil || reconcile == nil {
		panic("services cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DeliverableHandler{
		generation: generation,
		reconcile:  reconcile,
		logger:     logger.With(slog.String("component", "deliverable_handler")),
	}
}

// Generate handles POST /api/deliverables/{deliverableID}/generate
// requests. Responds 202 with the recorded generation state; the content
// arrives later via the worker webhook.
func (h *DeliverableHandler) Generate(w http.ResponseWriter, r *http.Request) {
	deliverableID, ok := h.deliverableID(w, r)
	if !ok {
		return
	}

	state, err := h.generation.StartGeneration(r.Context(), deliverableID)
	if err != nil {
		switch {
		case store.IsNotFoundError(err):
			shared.RespondWithError(w, r, http.StatusNotFound, "Deliverable not found")
		case errors.Is(err, service.ErrGenerationInProgress):
			shared.RespondWithError(w, r, http.StatusConflict, "Generation already in progress")
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to start generation", err)
		}
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, generationStateToResponse(state))
}

// ReconcileDeliverable handles POST
// /api/deliverables/{deliverableID}/reconcile requests, used when a
// generation webhook never arrived.
func (h *DeliverableHandler) ReconcileDeliverable(w http.ResponseWriter, r *http.Request) {
	deliverableID, ok := h.deliverableID(w, r)
	if !ok {
		return
	}

	report, err := h.reconcile.ReconcileDeliverable(r.Context(), deliverableID)
	h.respondReconcile(w, r, report, err, "Deliverable not found")
}

// ReconcileSource handles POST /api/sources/{sourceID}/reconcile
// requests for a batch source whose callback went missing.
func (h *DeliverableHandler) ReconcileSource(w http.ResponseWriter, r *http.Request) {
	sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid source ID")
		return
	}

	report, rerr := h.reconcile.ReconcileSource(r.Context(), sourceID)
	h.respondReconcile(w, r, report, rerr, "Source not found")
}

func (h *DeliverableHandler) deliverableID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "deliverableID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid deliverable ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *DeliverableHandler) respondReconcile(
	w http.ResponseWriter,
	r *http.Request,
	report *service.ReconcileReport,
	err error,
	notFoundMessage string,
) {
	if err != nil {
		switch {
		case store.IsNotFoundError(err):
			shared.RespondWithError(w, r, http.StatusNotFound, notFoundMessage)
		case errors.Is(err, service.ErrCannotRecover):
			shared.RespondWithError(w, r, http.StatusConflict, "No run identifier recorded, cannot recover")
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Reconciliation failed", err)
		}
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, report)
}
