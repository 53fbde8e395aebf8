package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwestin/docsmith-api/internal/domain"
	"github.com/kwestin/docsmith-api/internal/service"
	"github.com/kwestin/docsmith-api/internal/store"
)

type stubGenerationStarter struct {
	state *domain.GenerationState
	err   error
	gotID uuid.UUID
}

func (s *stubGenerationStarter) StartGeneration(ctx context.Context, deliverableID uuid.UUID) (*domain.GenerationState, error) {
	s.gotID = deliverableID
	return s.state, s.err
}

type stubReconciler struct {
	report *service.ReconcileReport
	err    error
	gotID  uuid.UUID
}

func (s *stubReconciler) ReconcileDeliverable(ctx context.Context, deliverableID uuid.UUID) (*service.ReconcileReport, error) {
	s.gotID = deliverableID
	return s.report, s.err
}

func (s *stubReconciler) ReconcileSource(ctx context.Context, sourceID uuid.UUID) (*service.ReconcileReport, error) {
	s.gotID = sourceID
	return s.report, s.err
}

func newDeliverableHandler(gen *stubGenerationStarter, rec *stubReconciler) *DeliverableHandler {
	if gen == nil {
		gen = &stubGenerationStarter{}
	}
	if rec == nil {
		rec = &stubReconciler{}
	}
	return NewDeliverableHandler(gen, rec, slog.Default())
}

func TestGenerate_Success(t *testing.T) {
	deliverableID := uuid.New()
	submittedAt := time.Now().UTC()
	gen := &stubGenerationStarter{state: &domain.GenerationState{
		Status:      domain.GenerationStatusSubmitted,
		JobID:       "job-gen",
		RunID:       "run-gen",
		SubmittedAt: &submittedAt,
	}}
	handler := newDeliverableHandler(gen, nil)

	req := newHandlerRequest(http.MethodPost, "/api/deliverables/"+deliverableID.String()+"/generate",
		nil, uuid.New(), map[string]string{"deliverableID": deliverableID.String()})
	rr := httptest.NewRecorder()
	handler.Generate(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, deliverableID, gen.gotID)

	var resp GenerationStateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "submitted", resp.Status)
	assert.Equal(t, "job-gen", resp.JobID)
	require.NotNil(t, resp.SubmittedAt)
}

func TestGenerate_NotFound(t *testing.T) {
	gen := &stubGenerationStarter{err: store.ErrDeliverableNotFound}
	handler := newDeliverableHandler(gen, nil)
	deliverableID := uuid.New()

	req := newHandlerRequest(http.MethodPost, "/api/deliverables/"+deliverableID.String()+"/generate",
		nil, uuid.New(), map[string]string{"deliverableID": deliverableID.String()})
	rr := httptest.NewRecorder()
	handler.Generate(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGenerate_AlreadyInProgress(t *testing.T) {
	gen := &stubGenerationStarter{err: service.ErrGenerationInProgress}
	handler := newDeliverableHandler(gen, nil)
	deliverableID := uuid.New()

	req := newHandlerRequest(http.MethodPost, "/api/deliverables/"+deliverableID.String()+"/generate",
		nil, uuid.New(), map[string]string{"deliverableID": deliverableID.String()})
	rr := httptest.NewRecorder()
	handler.Generate(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestGenerate_InvalidID(t *testing.T) {
	handler := newDeliverableHandler(nil, nil)

	req := newHandlerRequest(http.MethodPost, "/api/deliverables/garbage/generate",
		nil, uuid.New(), map[string]string{"deliverableID": "garbage"})
	rr := httptest.NewRecorder()
	handler.Generate(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReconcileDeliverable_ReportsOutcome(t *testing.T) {
	rec := &stubReconciler{report: &service.ReconcileReport{
		Outcome:      service.ReconcileStillRunning,
		WorkerStatus: "running",
	}}
	handler := newDeliverableHandler(nil, rec)
	deliverableID := uuid.New()

	req := newHandlerRequest(http.MethodPost, "/api/deliverables/"+deliverableID.String()+"/reconcile",
		nil, uuid.New(), map[string]string{"deliverableID": deliverableID.String()})
	rr := httptest.NewRecorder()
	handler.ReconcileDeliverable(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, deliverableID, rec.gotID)

	var resp service.ReconcileReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, service.ReconcileStillRunning, resp.Outcome)
	assert.Equal(t, "running", resp.WorkerStatus)
}

func TestReconcileDeliverable_CannotRecover(t *testing.T) {
	rec := &stubReconciler{err: service.ErrCannotRecover}
	handler := newDeliverableHandler(nil, rec)
	deliverableID := uuid.New()

	req := newHandlerRequest(http.MethodPost, "/api/deliverables/"+deliverableID.String()+"/reconcile",
		nil, uuid.New(), map[string]string{"deliverableID": deliverableID.String()})
	rr := httptest.NewRecorder()
	handler.ReconcileDeliverable(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestReconcileSource_ReportsOutcome(t *testing.T) {
	rec := &stubReconciler{report: &service.ReconcileReport{
		Outcome: service.ReconcileEnrichmentRedispatched,
	}}
	handler := newDeliverableHandler(nil, rec)
	sourceID := uuid.New()

	req := newHandlerRequest(http.MethodPost, "/api/sources/"+sourceID.String()+"/reconcile",
		nil, uuid.New(), map[string]string{"sourceID": sourceID.String()})
	rr := httptest.NewRecorder()
	handler.ReconcileSource(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, sourceID, rec.gotID)
}

func TestReconcileSource_NotFound(t *testing.T) {
	rec := &stubReconciler{err: store.ErrSourceNotFound}
	handler := newDeliverableHandler(nil, rec)
	sourceID := uuid.New()

	req := newHandlerRequest(http.MethodPost, "/api/sources/"+sourceID.String()+"/reconcile",
		nil, uuid.New(), map[string]string{"sourceID": sourceID.String()})
	rr := httptest.NewRecorder()
	handler.ReconcileSource(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
