package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kwestin/docsmith-api/internal/domain"
	"github.com/kwestin/docsmith-api/internal/events"
	"github.com/kwestin/docsmith-api/internal/platform/worker"
	"github.com/kwestin/docsmith-api/internal/store"
)

// Metadata keys the submitter attaches to every job. The worker echoes
// them back verbatim, and they are how a callback finds its rows.
const (
	metaSourceID      = "source_id"
	metaBatchID       = "batch_id"
	metaContractID    = "contract_id"
	metaDeliverableID = "deliverable_id"
)

// CallbackPayload is the webhook body delivered by the worker when a job
// reaches a terminal state on its side.
type CallbackPayload struct {
	JobID    string            `json:"job_id"             validate:"required"`
	Status   string            `json:"status"             validate:"required,oneof=completed failed"`
	Metadata map[string]string `json:"metadata"           validate:"required"`
	Output   *worker.JobOutput `json:"output,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// CallbackService applies worker results to batch sources and deliverable
// generation state. Delivery is at-least-once; every path through this
// service either short-circuits on an already-terminal entity or applies
// its effect through a conditional store write, so the effective
// application is at most once.
type CallbackService struct {
	batchStore       store.BatchStore
	sourceStore      store.SourceStore
	assetStore       store.AssetStore
	deliverableStore store.DeliverableStore
	emitter          events.EventEmitter
	logger           *slog.Logger
}

// NewCallbackService creates a CallbackService with the given dependencies.
func NewCallbackService(
	batchStore store.BatchStore,
	sourceStore store.SourceStore,
	assetStore store.AssetStore,
	deliverableStore store.DeliverableStore,
	emitter events.EventEmitter,
	logger *slog.Logger,
) *CallbackService {
	if batchStore == nil || sourceStore == nil || assetStore == nil || deliverableStore == nil {
		panic("stores cannot be nil")
	}
	if emitter == nil {
		panic("emitter cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CallbackService{
		batchStore:       batchStore,
		sourceStore:      sourceStore,
		assetStore:       assetStore,
		deliverableStore: deliverableStore,
		emitter:          emitter,
		logger:           logger.With(slog.String("component", "callback_service")),
	}
}

// HandleCallback routes a webhook payload to the source or generation
// flow based on the identifiers carried in its metadata.
func (s *CallbackService) HandleCallback(ctx context.Context, payload *CallbackPayload) error {
	result := &worker.RunResult{
		JobID:  payload.JobID,
		Status: payload.Status,
		Output: payload.Output,
		Error:  payload.Error,
	}

	if raw, ok := payload.Metadata[metaDeliverableID]; ok {
		deliverableID, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("%w: invalid deliverable_id %q", ErrMalformedPayload, raw)
		}
		return s.ApplyGenerationResult(ctx, deliverableID, result)
	}

	if raw, ok := payload.Metadata[metaSourceID]; ok {
		sourceID, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("%w: invalid source_id %q", ErrMalformedPayload, raw)
		}
		return s.ApplySourceResult(ctx, sourceID, result)
	}

	return fmt.Errorf("%w: metadata carries no entity identifier", ErrMalformedPayload)
}

// ApplySourceResult applies a worker result to a batch source. It is the
// shared apply path of the webhook and reconciliation flows; behavior is
// identical regardless of which one delivered the result.
func (s *CallbackService) ApplySourceResult(
	ctx context.Context,
	sourceID uuid.UUID,
	result *worker.RunResult,
) error {
	source, err := s.sourceStore.GetByID(ctx, sourceID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return fmt.Errorf("%w: source %s", ErrUnknownEntity, sourceID)
		}
		return fmt.Errorf("failed to load source: %w", err)
	}

	// Idempotency gate: a terminal source has already been applied and
	// counted, so a re-delivered callback is acknowledged without effect.
	if source.Status.IsTerminal() {
		s.logger.Info("ignoring callback for terminal source",
			"source_id", sourceID,
			"status", source.Status)
		return nil
	}

	switch result.Status {
	case worker.RunStatusFailed:
		errText := result.Error
		if errText == "" {
			errText = "worker reported failure without detail"
		}
		return s.failSource(ctx, source, errText)

	case worker.RunStatusCompleted:
		// A success without usable output cannot produce an asset. Convert
		// it to a failure so the source still reaches a terminal state
		// instead of sitting in submitted forever.
		if result.Output == nil || result.Output.Content == "" {
			return s.failSource(ctx, source, "worker reported success without output")
		}
		return s.completeSource(ctx, source, result.Output)

	default:
		return fmt.Errorf("%w: unrecognized status %q", ErrMalformedPayload, result.Status)
	}
}

// failSource moves a source to its terminal failed state and counts it.
// The conditional MarkFailed ensures a racing duplicate counts nothing.
func (s *CallbackService) failSource(
	ctx context.Context,
	source *domain.BatchSource,
	errText string,
) error {
	applied, err := s.sourceStore.MarkFailed(ctx, source.ID, errText)
	if err != nil {
		return fmt.Errorf("failed to mark source failed: %w", err)
	}
	if !applied {
		s.logger.Info("source already terminal, skipping failure count",
			"source_id", source.ID)
		return nil
	}

	counts, err := s.batchStore.IncrementFailed(ctx, source.BatchID)
	if err != nil {
		return fmt.Errorf("failed to increment batch failure counter: %w", err)
	}

	finalizeIfComplete(ctx, s.batchStore, source.BatchID, counts, s.logger)
	return nil
}

// completeSource persists the scraped content as an asset, advances the
// source, and dispatches enrichment. The batch success counter is bumped
// by the enrichment task once the source is fully categorized, so the
// webhook response never waits on the AI calls.
func (s *CallbackService) completeSource(
	ctx context.Context,
	source *domain.BatchSource,
	output *worker.JobOutput,
) error {
	if err := s.sourceStore.MarkScraped(ctx, source.ID); err != nil {
		return fmt.Errorf("failed to mark source scraped: %w", err)
	}

	assetID, err := s.upsertAsset(ctx, source, output)
	if err != nil {
		return err
	}

	applied, err := s.sourceStore.MarkAssetCreated(ctx, source.ID, assetID)
	if err != nil {
		return fmt.Errorf("failed to mark asset created: %w", err)
	}
	if !applied {
		// Another delivery already advanced this source. Its enrichment
		// may still be pending (a prior attempt could have died before the
		// task was persisted), so re-dispatching is checked below rather
		// than skipped outright.
		current, err := s.sourceStore.GetByID(ctx, source.ID)
		if err != nil || current.Status != domain.SourceStatusAssetCreated || current.AssetID == nil {
			return nil
		}
		assetID = *current.AssetID
	}

	return s.dispatchEnrichment(ctx, source, assetID)
}

// upsertAsset creates the asset for the scraped content, or refreshes the
// one the contract already holds for this URL.
func (s *CallbackService) upsertAsset(
	ctx context.Context,
	source *domain.BatchSource,
	output *worker.JobOutput,
) (uuid.UUID, error) {
	existing, err := s.assetStore.FindBySourceURL(ctx, source.ContractID, source.URL)
	switch {
	case err == nil:
		if err := s.assetStore.UpdateContent(ctx, existing.ID, output.Title, output.Content, output.Summary); err != nil {
			return uuid.Nil, fmt.Errorf("failed to refresh asset content: %w", err)
		}
		return existing.ID, nil

	case store.IsNotFoundError(err):
		asset, err := domain.NewAsset(source.ContractID, output.Title, output.Content, output.Summary, source.URL)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to build asset: %w", err)
		}
		if err := s.assetStore.Create(ctx, asset); err != nil {
			// A concurrent delivery won the insert; reuse its row.
			if errors.Is(err, store.ErrDuplicate) {
				winner, ferr := s.assetStore.FindBySourceURL(ctx, source.ContractID, source.URL)
				if ferr != nil {
					return uuid.Nil, fmt.Errorf("failed to load asset after duplicate insert: %w", ferr)
				}
				return winner.ID, nil
			}
			return uuid.Nil, fmt.Errorf("failed to save asset: %w", err)
		}
		return asset.ID, nil

	default:
		return uuid.Nil, fmt.Errorf("failed to look up asset by URL: %w", err)
	}
}

// dispatchEnrichment emits the event that becomes a durable enrichment
// task. The task runs after this handler has responded and is the actor
// that finishes the source (categorized) and bumps the success counter.
func (s *CallbackService) dispatchEnrichment(
	ctx context.Context,
	source *domain.BatchSource,
	assetID uuid.UUID,
) error {
	event, err := events.NewTaskRequestEvent(events.EventTypeAssetEnrichment, events.AssetEnrichmentRequested{
		SourceID: source.ID,
		BatchID:  source.BatchID,
		AssetID:  assetID,
	})
	if err != nil {
		return fmt.Errorf("failed to build enrichment event: %w", err)
	}

	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		// The asset write already committed; surfacing the error makes the
		// worker retry the webhook, and the retry lands on the re-dispatch
		// path above.
		return fmt.Errorf("failed to dispatch enrichment: %w", err)
	}

	s.logger.Debug("enrichment dispatched",
		"source_id", source.ID,
		"asset_id", assetID)
	return nil
}

// ApplyGenerationResult applies a worker result to a deliverable's
// generation state. Shared by the webhook and reconciliation flows.
func (s *CallbackService) ApplyGenerationResult(
	ctx context.Context,
	deliverableID uuid.UUID,
	result *worker.RunResult,
) error {
	deliverable, err := s.deliverableStore.GetByID(ctx, deliverableID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return fmt.Errorf("%w: deliverable %s", ErrUnknownEntity, deliverableID)
		}
		return fmt.Errorf("failed to load deliverable: %w", err)
	}

	state, err := deliverable.GenerationState()
	if err != nil {
		return fmt.Errorf("failed to decode generation state: %w", err)
	}

	// Idempotency gate for the single-item flow.
	if state.Status.IsTerminal() {
		s.logger.Info("ignoring callback for terminal generation",
			"deliverable_id", deliverableID,
			"status", state.Status)
		return nil
	}

	switch result.Status {
	case worker.RunStatusFailed:
		errText := result.Error
		if errText == "" {
			errText = "worker reported failure without detail"
		}
		return s.failGeneration(ctx, deliverableID, state, errText)

	case worker.RunStatusCompleted:
		if result.Output == nil || result.Output.Content == "" {
			return s.failGeneration(ctx, deliverableID, state, "worker reported success without output")
		}
		return s.completeGeneration(ctx, deliverableID, state, result.Output)

	default:
		return fmt.Errorf("%w: unrecognized status %q", ErrMalformedPayload, result.Status)
	}
}

func (s *CallbackService) failGeneration(
	ctx context.Context,
	deliverableID uuid.UUID,
	state domain.GenerationState,
	errText string,
) error {
	s.advanceGeneration(&state, domain.GenerationStatusFailed, deliverableID)
	state.Error = errText
	now := time.Now().UTC()
	state.CompletedAt = &now

	if err := s.deliverableStore.MergeMetadata(ctx, deliverableID, domain.GenerationMetadata(state)); err != nil {
		return fmt.Errorf("failed to record generation failure: %w", err)
	}

	s.logger.Info("generation failed",
		"deliverable_id", deliverableID,
		"error", errText)
	return nil
}

func (s *CallbackService) completeGeneration(
	ctx context.Context,
	deliverableID uuid.UUID,
	state domain.GenerationState,
	output *worker.JobOutput,
) error {
	if err := s.deliverableStore.UpdateContent(ctx, deliverableID, output.Content); err != nil {
		return fmt.Errorf("failed to write generated content: %w", err)
	}

	s.advanceGeneration(&state, domain.GenerationStatusCompleted, deliverableID)
	state.Error = ""
	now := time.Now().UTC()
	state.CompletedAt = &now

	if err := s.deliverableStore.MergeMetadata(ctx, deliverableID, domain.GenerationMetadata(state)); err != nil {
		return fmt.Errorf("failed to record generation completion: %w", err)
	}

	s.logger.Info("generation completed", "deliverable_id", deliverableID)
	return nil
}

// advanceGeneration applies a transition, logging rather than rejecting a
// move the table does not list. The gate above already excluded terminal
// states, so an out-of-table move here means the worker reported an
// outcome for a job we have no submission record of; the outcome still
// wins because forward progress never regresses.
func (s *CallbackService) advanceGeneration(
	state *domain.GenerationState,
	next domain.GenerationStatus,
	deliverableID uuid.UUID,
) {
	if err := state.Advance(next); err != nil {
		s.logger.Warn("unexpected generation transition, applying anyway",
			"deliverable_id", deliverableID,
			"from", state.Status,
			"to", next,
			"error", err)
		state.Status = next
	}
}
