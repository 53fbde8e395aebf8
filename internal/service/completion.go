package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kwestin/docsmith-api/internal/domain"
	"github.com/kwestin/docsmith-api/internal/store"
)

// finalizeIfComplete evaluates the counter snapshot and, when every item
// has been counted, moves the batch to its terminal status. The store
// write is conditional on the batch still being in progress, so two
// callers racing past the same snapshot cannot double-finalize.
func finalizeIfComplete(
	ctx context.Context,
	batches store.BatchStore,
	batchID uuid.UUID,
	counts *domain.BatchCounts,
	logger *slog.Logger,
) {
	status, done := domain.EvaluateBatchCompletion(counts.Total, counts.Completed, counts.Failed, counts.Status)
	if !done {
		return
	}

	if err := batches.FinalizeStatus(ctx, batchID, status, time.Now().UTC()); err != nil {
		logger.Error("failed to finalize batch",
			"batch_id", batchID,
			"status", status,
			"error", err)
		return
	}

	logger.Info("batch finished",
		"batch_id", batchID,
		"status", status,
		"completed", counts.Completed,
		"failed", counts.Failed,
		"total", counts.Total)
}
