package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kwestin/docsmith-api/internal/domain"
	"github.com/kwestin/docsmith-api/internal/platform/worker"
	"github.com/kwestin/docsmith-api/internal/store"
)

// RunLookup queries the worker's job store directly by run identifier.
type RunLookup interface {
	GetRun(ctx context.Context, runID string) (*worker.RunResult, error)
}

// ReconcileOutcome classifies what a reconciliation attempt did.
type ReconcileOutcome string

// Possible reconciliation outcomes
const (
	// ReconcileAlreadyComplete means the entity was already terminal and
	// nothing was done.
	ReconcileAlreadyComplete ReconcileOutcome = "already_complete"

	// ReconcileStillRunning means the worker reports the job as still in
	// flight; nothing was applied.
	ReconcileStillRunning ReconcileOutcome = "still_running"

	// ReconcileApplied means the worker's terminal result was applied
	// exactly as a webhook delivery would have been.
	ReconcileApplied ReconcileOutcome = "applied"

	// ReconcileEnrichmentRedispatched means the source's scrape had already
	// landed but its enrichment never finished, so the enrichment task was
	// dispatched again.
	ReconcileEnrichmentRedispatched ReconcileOutcome = "enrichment_redispatched"
)

// ReconcileReport is returned to the caller describing what happened.
type ReconcileReport struct {
	Outcome      ReconcileOutcome `json:"outcome"`
	WorkerStatus string           `json:"worker_status,omitempty"`
}

// ReconcileService recovers entities whose webhook never arrived by
// pulling the outcome straight from the worker's job store and replaying
// it through the same apply path the callback handler uses.
type ReconcileService struct {
	deliverableStore store.DeliverableStore
	sourceStore      store.SourceStore
	lookup           RunLookup
	callbacks        *CallbackService
	logger           *slog.Logger
}

// NewReconcileService creates a ReconcileService with the given dependencies.
func NewReconcileService(
	deliverableStore store.DeliverableStore,
	sourceStore store.SourceStore,
	lookup RunLookup,
	callbacks *CallbackService,
	logger *slog.Logger,
) *ReconcileService {
	if deliverableStore == nil || sourceStore == nil {
		panic("stores cannot be nil")
	}
	if lookup == nil {
		panic("lookup cannot be nil")
	}
	if callbacks == nil {
		panic("callback service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ReconcileService{
		deliverableStore: deliverableStore,
		sourceStore:      sourceStore,
		lookup:           lookup,
		callbacks:        callbacks,
		logger:           logger.With(slog.String("component", "reconcile_service")),
	}
}

// ReconcileDeliverable recovers a stalled generation. Already-terminal
// state is reported untouched; a generation that never recorded a run
// identifier cannot be recovered.
func (s *ReconcileService) ReconcileDeliverable(
	ctx context.Context,
	deliverableID uuid.UUID,
) (*ReconcileReport, error) {
	deliverable, err := s.deliverableStore.GetByID(ctx, deliverableID)
	if err != nil {
		return nil, err
	}

	state, err := deliverable.GenerationState()
	if err != nil {
		return nil, fmt.Errorf("failed to decode generation state: %w", err)
	}

	if state.Status.IsTerminal() {
		return &ReconcileReport{Outcome: ReconcileAlreadyComplete}, nil
	}
	if state.RunID == "" {
		return nil, fmt.Errorf("%w: deliverable %s", ErrCannotRecover, deliverableID)
	}

	// Record that we are interrogating the worker; a crash mid-lookup
	// leaves the state explainable rather than stuck at submitted.
	if state.Status == domain.GenerationStatusSubmitted {
		if err := state.Advance(domain.GenerationStatusPolling); err == nil {
			if err := s.deliverableStore.MergeMetadata(ctx, deliverableID, domain.GenerationMetadata(state)); err != nil {
				s.logger.Warn("failed to record polling state",
					"deliverable_id", deliverableID,
					"error", err)
			}
		}
	}

	result, err := s.lookup.GetRun(ctx, state.RunID)
	if err != nil {
		return nil, fmt.Errorf("run lookup failed: %w", err)
	}

	if result.Status == worker.RunStatusRunning {
		s.logger.Info("generation still running on worker",
			"deliverable_id", deliverableID,
			"run_id", state.RunID)
		return &ReconcileReport{Outcome: ReconcileStillRunning, WorkerStatus: result.Status}, nil
	}

	if err := s.callbacks.ApplyGenerationResult(ctx, deliverableID, result); err != nil {
		return nil, err
	}
	return &ReconcileReport{Outcome: ReconcileApplied, WorkerStatus: result.Status}, nil
}

// ReconcileSource recovers a stalled batch source. A source stuck after
// its asset landed only needs its enrichment dispatched again; otherwise
// the worker is interrogated and its terminal result replayed.
func (s *ReconcileService) ReconcileSource(
	ctx context.Context,
	sourceID uuid.UUID,
) (*ReconcileReport, error) {
	source, err := s.sourceStore.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	if source.Status.IsTerminal() {
		return &ReconcileReport{Outcome: ReconcileAlreadyComplete}, nil
	}

	if source.Status == domain.SourceStatusAssetCreated && source.AssetID != nil {
		if err := s.callbacks.dispatchEnrichment(ctx, source, *source.AssetID); err != nil {
			return nil, err
		}
		return &ReconcileReport{Outcome: ReconcileEnrichmentRedispatched}, nil
	}

	if source.RunID == "" {
		return nil, fmt.Errorf("%w: source %s", ErrCannotRecover, sourceID)
	}

	result, err := s.lookup.GetRun(ctx, source.RunID)
	if err != nil {
		return nil, fmt.Errorf("run lookup failed: %w", err)
	}

	if result.Status == worker.RunStatusRunning {
		s.logger.Info("scrape still running on worker",
			"source_id", sourceID,
			"run_id", source.RunID)
		return &ReconcileReport{Outcome: ReconcileStillRunning, WorkerStatus: result.Status}, nil
	}

	if err := s.callbacks.ApplySourceResult(ctx, sourceID, result); err != nil {
		return nil, err
	}
	return &ReconcileReport{Outcome: ReconcileApplied, WorkerStatus: result.Status}, nil
}
