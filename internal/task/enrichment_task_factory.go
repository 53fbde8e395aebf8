package task

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// AssetEnrichmentTaskFactory creates AssetEnrichmentTask instances with
// their dependencies pre-wired, for both fresh dispatch and recovery
// rehydration.
type AssetEnrichmentTaskFactory struct {
	sourceRepo  SourceRepository
	assetRepo   AssetRepository
	batchRepo   BatchRepository
	embedder    Embedder
	categorizer Categorizer
	logger      *slog.Logger
}

// NewAssetEnrichmentTaskFactory creates a new factory
func NewAssetEnrichmentTaskFactory(
	sourceRepo SourceRepository,
	assetRepo AssetRepository,
	batchRepo BatchRepository,
	embedder Embedder,
	categorizer Categorizer,
	logger *slog.Logger,
) *AssetEnrichmentTaskFactory {
	return &AssetEnrichmentTaskFactory{
		sourceRepo:  sourceRepo,
		assetRepo:   assetRepo,
		batchRepo:   batchRepo,
		embedder:    embedder,
		categorizer: categorizer,
		logger:      logger,
	}
}

// CreateTask creates a new enrichment task for the given source/asset pair.
func (f *AssetEnrichmentTaskFactory) CreateTask(sourceID, batchID, assetID uuid.UUID) (Task, error) {
	return NewAssetEnrichmentTask(
		sourceID, batchID, assetID,
		f.sourceRepo, f.assetRepo, f.batchRepo,
		f.embedder, f.categorizer,
		f.logger,
	)
}

// Rehydrate rebuilds an enrichment task from its persisted record,
// satisfying the runner's RehydrateFunc contract.
func (f *AssetEnrichmentTaskFactory) Rehydrate(record *TaskRecord) (Task, error) {
	var payload enrichmentPayload
	if err := json.Unmarshal(record.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal enrichment payload: %w", err)
	}

	t, err := NewAssetEnrichmentTask(
		payload.SourceID, payload.BatchID, payload.AssetID,
		f.sourceRepo, f.assetRepo, f.batchRepo,
		f.embedder, f.categorizer,
		f.logger,
	)
	if err != nil {
		return nil, err
	}

	// Keep the persisted identity so status updates hit the original row.
	t.id = record.ID
	return t, nil
}
