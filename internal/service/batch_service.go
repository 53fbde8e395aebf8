// Package service contains the application services coordinating the
// ingestion and generation flows: batch submission, webhook callback
// processing, deliverable generation, and reconciliation.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kwestin/docsmith-api/internal/domain"
	"github.com/kwestin/docsmith-api/internal/platform/worker"
	"github.com/kwestin/docsmith-api/internal/store"
)

// ScrapeSubmitter dispatches scrape jobs to the external worker.
type ScrapeSubmitter interface {
	SubmitScrape(ctx context.Context, req worker.ScrapeRequest) (*worker.SubmitResponse, error)
}

// BatchSubmissionResult is returned to the caller as soon as every
// submission call has been made. Jobs themselves complete later, via the
// webhook.
type BatchSubmissionResult struct {
	BatchID           uuid.UUID `json:"batch_id"`
	Total             int       `json:"total"`
	Submitted         int       `json:"submitted"`
	SkippedDuplicates []string  `json:"skipped_duplicates"`
}

// BatchProgress is the read-side view of a batch and its sources.
type BatchProgress struct {
	Batch   *domain.SourceBatch   `json:"batch"`
	Sources []*domain.BatchSource `json:"sources"`
}

// BatchService creates source batches and dispatches their scrape jobs.
type BatchService struct {
	db            *sql.DB
	batchStore    store.BatchStore
	sourceStore   store.SourceStore
	assetStore    store.AssetStore
	submitter     ScrapeSubmitter
	logger        *slog.Logger
	maxConcurrent int
}

// NewBatchService creates a BatchService with the given dependencies.
func NewBatchService(
	db *sql.DB,
	batchStore store.BatchStore,
	sourceStore store.SourceStore,
	assetStore store.AssetStore,
	submitter ScrapeSubmitter,
	logger *slog.Logger,
	maxConcurrent int,
) *BatchService {
	if db == nil {
		panic("db cannot be nil")
	}
	if batchStore == nil || sourceStore == nil || assetStore == nil {
		panic("stores cannot be nil")
	}
	if submitter == nil {
		panic("submitter cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	return &BatchService{
		db:            db,
		batchStore:    batchStore,
		sourceStore:   sourceStore,
		assetStore:    assetStore,
		submitter:     submitter,
		logger:        logger.With(slog.String("component", "batch_service")),
		maxConcurrent: maxConcurrent,
	}
}

// SubmitSources deduplicates the given URLs, skips ones the contract
// already has an asset for, creates the batch with its total fixed, and
// dispatches one scrape job per new source in bounded parallelism. It
// returns once every submission call has been made; results arrive later
// on the webhook endpoint.
func (s *BatchService) SubmitSources(
	ctx context.Context,
	contractID, createdBy uuid.UUID,
	urls []string,
	opts domain.BatchOptions,
) (*BatchSubmissionResult, error) {
	newURLs, skipped, err := s.dedupe(ctx, contractID, urls)
	if err != nil {
		return nil, err
	}

	// Nothing left after deduplication: record an already-completed batch
	// so the caller still gets a batch row documenting the request.
	if len(newURLs) == 0 {
		batch, err := domain.NewSourceBatch(contractID, createdBy, 0, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create empty batch: %w", err)
		}
		if err := s.batchStore.Create(ctx, batch); err != nil {
			return nil, fmt.Errorf("failed to save empty batch: %w", err)
		}
		return &BatchSubmissionResult{
			BatchID:           batch.ID,
			Total:             0,
			Submitted:         0,
			SkippedDuplicates: skipped,
		}, nil
	}

	batch, sources, err := s.createBatch(ctx, contractID, createdBy, newURLs, opts)
	if err != nil {
		return nil, err
	}

	submitted := s.dispatch(ctx, batch, sources)

	return &BatchSubmissionResult{
		BatchID:           batch.ID,
		Total:             batch.Total,
		Submitted:         submitted,
		SkippedDuplicates: skipped,
	}, nil
}

// GetProgress returns a batch with all of its sources.
func (s *BatchService) GetProgress(ctx context.Context, batchID uuid.UUID) (*BatchProgress, error) {
	batch, err := s.batchStore.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}

	sources, err := s.sourceStore.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch sources: %w", err)
	}

	return &BatchProgress{Batch: batch, Sources: sources}, nil
}

// dedupe canonicalizes the inputs (trim, then case-insensitive compare),
// drops repeats within the request, and drops URLs the contract already
// holds an asset for. Returned skipped entries are canonical forms.
func (s *BatchService) dedupe(
	ctx context.Context,
	contractID uuid.UUID,
	urls []string,
) (newURLs, skipped []string, err error) {
	seen := make(map[string]struct{}, len(urls))
	canonical := make([]string, 0, len(urls))
	for _, raw := range urls {
		u := strings.ToLower(strings.TrimSpace(raw))
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		canonical = append(canonical, u)
	}

	if len(canonical) == 0 {
		return nil, nil, ErrNoInputs
	}

	existing, err := s.assetStore.ListExistingSourceURLs(ctx, contractID, canonical)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check existing assets: %w", err)
	}

	existingSet := make(map[string]struct{}, len(existing))
	for _, u := range existing {
		existingSet[strings.ToLower(u)] = struct{}{}
	}

	skipped = []string{}
	for _, u := range canonical {
		if _, ok := existingSet[u]; ok {
			skipped = append(skipped, u)
			continue
		}
		newURLs = append(newURLs, u)
	}
	return newURLs, skipped, nil
}

// createBatch writes the batch row and one source row per URL in a single
// transaction, so the fixed total can never disagree with the source count.
func (s *BatchService) createBatch(
	ctx context.Context,
	contractID, createdBy uuid.UUID,
	urls []string,
	opts domain.BatchOptions,
) (*domain.SourceBatch, []*domain.BatchSource, error) {
	batch, err := domain.NewSourceBatch(contractID, createdBy, len(urls), opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create batch: %w", err)
	}

	sources := make([]*domain.BatchSource, 0, len(urls))
	for _, u := range urls {
		src, err := domain.NewBatchSource(batch.ID, contractID, u)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create source for %q: %w", u, err)
		}
		sources = append(sources, src)
	}

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		txBatches := s.batchStore.WithTx(tx)
		txSources := s.sourceStore.WithTx(tx)

		if err := txBatches.Create(ctx, batch); err != nil {
			return fmt.Errorf("failed to save batch: %w", err)
		}
		for _, src := range sources {
			if err := txSources.Create(ctx, src); err != nil {
				return fmt.Errorf("failed to save source %q: %w", src.URL, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return batch, sources, nil
}

// dispatch submits one scrape job per source with bounded parallelism and
// waits for the submission calls (not the jobs) to finish. A submission
// failure is terminal for its source: it is marked failed and counted
// against the batch immediately, using the same increment primitive the
// callback path uses.
func (s *BatchService) dispatch(
	ctx context.Context,
	batch *domain.SourceBatch,
	sources []*domain.BatchSource,
) int {
	var g errgroup.Group
	g.SetLimit(s.maxConcurrent)

	results := make([]bool, len(sources))
	for i, src := range sources {
		g.Go(func() error {
			results[i] = s.submitOne(ctx, batch, src)
			return nil
		})
	}

	// Workers never return errors; failures are recorded per source.
	_ = g.Wait()

	submitted := 0
	for _, ok := range results {
		if ok {
			submitted++
		}
	}
	return submitted
}

func (s *BatchService) submitOne(
	ctx context.Context,
	batch *domain.SourceBatch,
	src *domain.BatchSource,
) bool {
	ack, err := s.submitter.SubmitScrape(ctx, worker.ScrapeRequest{
		URL: src.URL,
		Metadata: map[string]string{
			"source_id":   src.ID.String(),
			"batch_id":    batch.ID.String(),
			"contract_id": batch.ContractID.String(),
		},
	})
	if err != nil {
		s.logger.Warn("scrape submission failed",
			"source_id", src.ID,
			"batch_id", batch.ID,
			"url", src.URL,
			"error", err)
		s.recordSubmissionFailure(ctx, batch.ID, src.ID, err)
		return false
	}

	if err := s.sourceStore.RecordSubmission(ctx, src.ID, ack.JobID, ack.RunID); err != nil {
		// The job is already running; losing the identifiers only costs us
		// the reconciliation path for this source, so the submission still
		// counts.
		s.logger.Error("failed to record job identifiers",
			"source_id", src.ID,
			"job_id", ack.JobID,
			"error", err)
	}
	return true
}

// recordSubmissionFailure marks the source failed and counts it, then
// checks whether that failure was the last outstanding item.
func (s *BatchService) recordSubmissionFailure(
	ctx context.Context,
	batchID, sourceID uuid.UUID,
	cause error,
) {
	applied, err := s.sourceStore.MarkFailed(ctx, sourceID, fmt.Sprintf("submission failed: %v", cause))
	if err != nil {
		s.logger.Error("failed to mark source failed",
			"source_id", sourceID,
			"error", err)
		return
	}
	if !applied {
		return
	}

	counts, err := s.batchStore.IncrementFailed(ctx, batchID)
	if err != nil {
		s.logger.Error("failed to increment batch failure counter",
			"batch_id", batchID,
			"error", err)
		return
	}

	finalizeIfComplete(ctx, s.batchStore, batchID, counts, s.logger)
}
