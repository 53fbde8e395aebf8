package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kwestin/docsmith-api/internal/domain"
	"github.com/kwestin/docsmith-api/internal/platform/worker"
	"github.com/kwestin/docsmith-api/internal/store"
)

// contextAssetLimit caps how many assets feed the generation context.
// Newest first; older material contributes progressively less to a
// deliverable and the worker enforces its own input ceiling anyway.
const contextAssetLimit = 25

// GenerationSubmitter dispatches generation jobs to the external worker.
type GenerationSubmitter interface {
	SubmitGeneration(ctx context.Context, req worker.GenerationRequest) (*worker.SubmitResponse, error)
}

// GenerationService starts deliverable generation jobs: it assembles a
// context from the contract's asset corpus, submits one job, and records
// the generation state in the deliverable's metadata. Completion arrives
// later via the webhook (or reconciliation).
type GenerationService struct {
	deliverableStore store.DeliverableStore
	assetStore       store.AssetStore
	submitter        GenerationSubmitter
	logger           *slog.Logger
}

// NewGenerationService creates a GenerationService with the given dependencies.
func NewGenerationService(
	deliverableStore store.DeliverableStore,
	assetStore store.AssetStore,
	submitter GenerationSubmitter,
	logger *slog.Logger,
) *GenerationService {
	if deliverableStore == nil || assetStore == nil {
		panic("stores cannot be nil")
	}
	if submitter == nil {
		panic("submitter cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GenerationService{
		deliverableStore: deliverableStore,
		assetStore:       assetStore,
		submitter:        submitter,
		logger:           logger.With(slog.String("component", "generation_service")),
	}
}

// StartGeneration submits a generation job for the deliverable and
// returns the recorded state. Returns ErrGenerationInProgress when a job
// is already active; a completed or failed deliverable may be regenerated.
func (s *GenerationService) StartGeneration(
	ctx context.Context,
	deliverableID uuid.UUID,
) (*domain.GenerationState, error) {
	deliverable, err := s.deliverableStore.GetByID(ctx, deliverableID)
	if err != nil {
		return nil, err
	}

	current, err := deliverable.GenerationState()
	if err != nil {
		return nil, fmt.Errorf("failed to decode generation state: %w", err)
	}
	if current.Status.InFlight() {
		return nil, fmt.Errorf("%w: deliverable %s is %s", ErrGenerationInProgress, deliverableID, current.Status)
	}

	// A regeneration starts from a clean state block; the previous run's
	// identifiers and error must not leak into the new one.
	state := domain.GenerationState{Status: domain.GenerationStatusAssemblingContext}
	if err := s.deliverableStore.MergeMetadata(ctx, deliverableID, domain.GenerationMetadata(state)); err != nil {
		return nil, fmt.Errorf("failed to record generation start: %w", err)
	}

	brief, contextText, summary, err := s.assembleContext(ctx, deliverable)
	if err != nil {
		return nil, s.recordStartFailure(ctx, deliverableID, state, err)
	}
	state.ContextSummary = summary

	ack, err := s.submitter.SubmitGeneration(ctx, worker.GenerationRequest{
		Brief:   brief,
		Context: contextText,
		Metadata: map[string]string{
			metaDeliverableID: deliverableID.String(),
			metaContractID:    deliverable.ContractID.String(),
		},
	})
	if err != nil {
		return nil, s.recordStartFailure(ctx, deliverableID, state, fmt.Errorf("submission failed: %w", err))
	}

	now := time.Now().UTC()
	state.Status = domain.GenerationStatusSubmitted
	state.JobID = ack.JobID
	state.RunID = ack.RunID
	state.SubmittedAt = &now

	if err := s.deliverableStore.MergeMetadata(ctx, deliverableID, domain.GenerationMetadata(state)); err != nil {
		// The job is running; without the recorded identifiers the result
		// can only arrive via webhook, never via reconciliation.
		return nil, fmt.Errorf("failed to record submission: %w", err)
	}

	s.logger.Info("generation submitted",
		"deliverable_id", deliverableID,
		"job_id", ack.JobID,
		"context_assets", summary)
	return &state, nil
}

// assembleContext collects the contract's assets into the brief and
// context text sent to the worker.
func (s *GenerationService) assembleContext(
	ctx context.Context,
	deliverable *domain.Deliverable,
) (brief, contextText, summary string, err error) {
	assets, err := s.assetStore.ListByContract(ctx, deliverable.ContractID, contextAssetLimit)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to list contract assets: %w", err)
	}

	var b strings.Builder
	for _, a := range assets {
		fmt.Fprintf(&b, "## %s\n", a.Title)
		if a.Category != "" {
			fmt.Fprintf(&b, "Category: %s\n", a.Category)
		}
		if a.Summary != "" {
			fmt.Fprintf(&b, "%s\n\n", a.Summary)
		} else {
			fmt.Fprintf(&b, "%s\n\n", a.Content)
		}
	}

	brief = fmt.Sprintf("Generate the deliverable %q from the supplied contract material.", deliverable.Title)
	summary = fmt.Sprintf("%d assets", len(assets))
	return brief, b.String(), summary, nil
}

// recordStartFailure writes the terminal failed state for a submission
// that never made it to the worker, then returns the original cause.
func (s *GenerationService) recordStartFailure(
	ctx context.Context,
	deliverableID uuid.UUID,
	state domain.GenerationState,
	cause error,
) error {
	now := time.Now().UTC()
	state.Status = domain.GenerationStatusFailed
	state.Error = cause.Error()
	state.CompletedAt = &now

	if err := s.deliverableStore.MergeMetadata(ctx, deliverableID, domain.GenerationMetadata(state)); err != nil {
		s.logger.Error("failed to record generation start failure",
			"deliverable_id", deliverableID,
			"cause", cause,
			"error", err)
	}
	return cause
}
