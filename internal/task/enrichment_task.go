package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kwestin/docsmith-api/internal/domain"
)

// Common errors
var (
	ErrNilSourceRepo  = errors.New("source repository cannot be nil")
	ErrNilAssetRepo   = errors.New("asset repository cannot be nil")
	ErrNilBatchRepo   = errors.New("batch repository cannot be nil")
	ErrNilEmbedder    = errors.New("embedder cannot be nil")
	ErrNilCategorizer = errors.New("categorizer cannot be nil")
	ErrNilLogger      = errors.New("logger cannot be nil")
	ErrEmptySourceID  = errors.New("source ID cannot be empty")
	ErrEmptyAssetID   = errors.New("asset ID cannot be empty")
)

// SourceRepository defines the source operations the enrichment task needs
type SourceRepository interface {
	// GetByID retrieves a source by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.BatchSource, error)

	// MarkCategorized advances the source to its terminal categorized
	// state; returns false when another actor already moved it
	MarkCategorized(ctx context.Context, id uuid.UUID) (bool, error)
}

// AssetRepository defines the asset operations the enrichment task needs
type AssetRepository interface {
	// GetByID retrieves an asset by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Asset, error)

	// UpdateEnrichment records enrichment output on the asset
	UpdateEnrichment(ctx context.Context, id uuid.UUID, embedding []float32, category string, attributes map[string]any) error
}

// BatchRepository defines the batch operations the enrichment task needs
type BatchRepository interface {
	// GetByID retrieves a batch by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SourceBatch, error)

	// IncrementCompleted atomically bumps the success counter
	IncrementCompleted(ctx context.Context, id uuid.UUID) (*domain.BatchCounts, error)

	// FinalizeStatus conditionally moves the batch to a terminal status
	FinalizeStatus(ctx context.Context, id uuid.UUID, status domain.BatchStatus, completedAt time.Time) error
}

// Embedder produces an embedding vector for asset content
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Classification is the result of AI categorization
type Classification struct {
	Category   string
	Attributes map[string]any
}

// Categorizer assigns a category and extracts attributes from asset content
type Categorizer interface {
	Categorize(ctx context.Context, title, content string) (*Classification, error)
}

// enrichmentPayload is the serialized data stored in the task row
type enrichmentPayload struct {
	SourceID uuid.UUID `json:"source_id"`
	BatchID  uuid.UUID `json:"batch_id"`
	AssetID  uuid.UUID `json:"asset_id"`
}

// AssetEnrichmentTask embeds and categorizes a newly created asset, then
// closes out its batch source: terminal categorized status, success counter
// increment, batch completion check.
//
// Embedding and categorization failures are soft: they are logged, recorded
// in the asset's attribute bag, and never prevent the source from reaching
// categorized. Enrichment is an enhancement, not a correctness requirement
// of the ingestion.
type AssetEnrichmentTask struct {
	id          uuid.UUID
	sourceID    uuid.UUID
	batchID     uuid.UUID
	assetID     uuid.UUID
	sourceRepo  SourceRepository
	assetRepo   AssetRepository
	batchRepo   BatchRepository
	embedder    Embedder
	categorizer Categorizer
	logger      *slog.Logger
	status      TaskStatus
}

// NewAssetEnrichmentTask creates a new enrichment task
func NewAssetEnrichmentTask(
	sourceID, batchID, assetID uuid.UUID,
	sourceRepo SourceRepository,
	assetRepo AssetRepository,
	batchRepo BatchRepository,
	embedder Embedder,
	categorizer Categorizer,
	logger *slog.Logger,
) (*AssetEnrichmentTask, error) {
	if sourceRepo == nil {
		return nil, ErrNilSourceRepo
	}
	if assetRepo == nil {
		return nil, ErrNilAssetRepo
	}
	if batchRepo == nil {
		return nil, ErrNilBatchRepo
	}
	if embedder == nil {
		return nil, ErrNilEmbedder
	}
	if categorizer == nil {
		return nil, ErrNilCategorizer
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	if sourceID == uuid.Nil {
		return nil, ErrEmptySourceID
	}
	if assetID == uuid.Nil {
		return nil, ErrEmptyAssetID
	}

	return &AssetEnrichmentTask{
		id:          uuid.New(),
		sourceID:    sourceID,
		batchID:     batchID,
		assetID:     assetID,
		sourceRepo:  sourceRepo,
		assetRepo:   assetRepo,
		batchRepo:   batchRepo,
		embedder:    embedder,
		categorizer: categorizer,
		logger:      logger.With("task_type", TaskTypeAssetEnrichment, "source_id", sourceID),
		status:      TaskStatusPending,
	}, nil
}

// ID returns the task's unique identifier
func (t *AssetEnrichmentTask) ID() uuid.UUID {
	return t.id
}

// Type returns the task type identifier
func (t *AssetEnrichmentTask) Type() string {
	return TaskTypeAssetEnrichment
}

// Payload returns the task data as a byte slice
func (t *AssetEnrichmentTask) Payload() []byte {
	payload := enrichmentPayload{
		SourceID: t.sourceID,
		BatchID:  t.batchID,
		AssetID:  t.assetID,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.logger.Error("failed to marshal task payload", "error", err)
		return []byte{}
	}
	return data
}

// Status returns the current task status
func (t *AssetEnrichmentTask) Status() TaskStatus {
	return t.status
}

// Execute runs the enrichment. Mandatory steps (terminal status write,
// counter increment, completion check) return errors; enrichment steps are
// absorbed as soft failures.
func (t *AssetEnrichmentTask) Execute(ctx context.Context) error {
	t.status = TaskStatusProcessing
	t.logger.Info("starting asset enrichment")

	if err := ctx.Err(); err != nil {
		t.status = TaskStatusFailed
		return fmt.Errorf("task cancelled by context: %w", err)
	}

	source, err := t.sourceRepo.GetByID(ctx, t.sourceID)
	if err != nil {
		t.status = TaskStatusFailed
		return fmt.Errorf("failed to retrieve source: %w", err)
	}

	// A duplicate or recovered task may find the source already closed out.
	if source.Status != domain.SourceStatusAssetCreated {
		t.logger.Info("source no longer awaiting enrichment, skipping",
			"source_status", source.Status)
		t.status = TaskStatusCompleted
		return nil
	}

	asset, err := t.assetRepo.GetByID(ctx, t.assetID)
	if err != nil {
		t.status = TaskStatusFailed
		return fmt.Errorf("failed to retrieve asset: %w", err)
	}

	embedding, classification := t.enrich(ctx, asset)

	if embedding != nil || classification != nil {
		category := ""
		var attributes map[string]any
		if classification != nil {
			category = classification.Category
			attributes = classification.Attributes
		}
		if err := t.assetRepo.UpdateEnrichment(ctx, t.assetID, embedding, category, attributes); err != nil {
			// Losing enrichment output is a soft failure too; the source
			// still closes out below.
			t.logger.Error("failed to persist enrichment output", "error", err)
		}
	}

	applied, err := t.sourceRepo.MarkCategorized(ctx, t.sourceID)
	if err != nil {
		t.status = TaskStatusFailed
		return fmt.Errorf("failed to mark source categorized: %w", err)
	}
	if !applied {
		t.logger.Info("source already closed out by another actor")
		t.status = TaskStatusCompleted
		return nil
	}

	counts, err := t.batchRepo.IncrementCompleted(ctx, t.batchID)
	if err != nil {
		t.status = TaskStatusFailed
		return fmt.Errorf("failed to increment batch completed counter: %w", err)
	}

	if status, done := domain.EvaluateBatchCompletion(
		counts.Total, counts.Completed, counts.Failed, counts.Status,
	); done {
		if err := t.batchRepo.FinalizeStatus(ctx, t.batchID, status, time.Now().UTC()); err != nil {
			t.status = TaskStatusFailed
			return fmt.Errorf("failed to finalize batch: %w", err)
		}
		t.logger.Info("batch finalized", "batch_id", t.batchID, "batch_status", status)
	}

	t.status = TaskStatusCompleted
	t.logger.Info("asset enrichment completed")
	return nil
}

// enrich runs the best-effort embedding and categorization steps.
// Failures are logged and recorded as attributes, never propagated.
func (t *AssetEnrichmentTask) enrich(ctx context.Context, asset *domain.Asset) ([]float32, *Classification) {
	var softErrors []string

	embedding, err := t.embedder.Embed(ctx, asset.Content)
	if err != nil {
		t.logger.Warn("embedding failed", "error", err)
		softErrors = append(softErrors, fmt.Sprintf("embedding: %v", err))
		embedding = nil
	}

	var classification *Classification
	if preselected := t.preselectedCategory(ctx); preselected != "" {
		classification = &Classification{Category: preselected}
	} else {
		classification, err = t.categorizer.Categorize(ctx, asset.Title, asset.Content)
		if err != nil {
			t.logger.Warn("categorization failed", "error", err)
			softErrors = append(softErrors, fmt.Sprintf("categorization: %v", err))
			classification = nil
		}
	}

	if len(softErrors) > 0 {
		if classification == nil {
			classification = &Classification{}
		}
		if classification.Attributes == nil {
			classification.Attributes = map[string]any{}
		}
		classification.Attributes["enrichment_error"] = softErrors
	}

	return embedding, classification
}

// preselectedCategory looks up the batch options for a caller-pinned
// category. Lookup failures fall back to AI categorization.
func (t *AssetEnrichmentTask) preselectedCategory(ctx context.Context) string {
	if t.batchID == uuid.Nil {
		return ""
	}
	batch, err := t.batchRepo.GetByID(ctx, t.batchID)
	if err != nil {
		t.logger.Warn("failed to load batch options", "error", err)
		return ""
	}
	return batch.Options.Category
}
