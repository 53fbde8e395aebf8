package service

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kwestin/docsmith-api/internal/domain"
	"github.com/kwestin/docsmith-api/internal/events"
	"github.com/kwestin/docsmith-api/internal/platform/worker"
	"github.com/kwestin/docsmith-api/internal/store"
)

// In-memory store fakes. Conditional writes mirror the SQL stores so the
// idempotency behavior under duplicate deliveries is exercised for real.

type fakeBatchStore struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*domain.SourceBatch
}

func newFakeBatchStore() *fakeBatchStore {
	return &fakeBatchStore{batches: make(map[uuid.UUID]*domain.SourceBatch)}
}

func (s *fakeBatchStore) Create(ctx context.Context, batch *domain.SourceBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *batch
	s.batches[batch.ID] = &copied
	return nil
}

func (s *fakeBatchStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.SourceBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return nil, store.ErrBatchNotFound
	}
	copied := *batch
	return &copied, nil
}

func (s *fakeBatchStore) IncrementCompleted(ctx context.Context, id uuid.UUID) (*domain.BatchCounts, error) {
	return s.increment(id, true)
}

func (s *fakeBatchStore) IncrementFailed(ctx context.Context, id uuid.UUID) (*domain.BatchCounts, error) {
	return s.increment(id, false)
}

func (s *fakeBatchStore) increment(id uuid.UUID, completed bool) (*domain.BatchCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return nil, store.ErrBatchNotFound
	}
	if completed {
		batch.Completed++
	} else {
		batch.Failed++
	}
	return &domain.BatchCounts{
		Total:     batch.Total,
		Completed: batch.Completed,
		Failed:    batch.Failed,
		Status:    batch.Status,
	}, nil
}

func (s *fakeBatchStore) FinalizeStatus(ctx context.Context, id uuid.UUID, status domain.BatchStatus, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return store.ErrBatchNotFound
	}
	if batch.Status != domain.BatchStatusInProgress {
		return nil
	}
	batch.Status = status
	batch.CompletedAt = &completedAt
	return nil
}

func (s *fakeBatchStore) WithTx(tx *sql.Tx) store.BatchStore { return s }

type fakeSourceStore struct {
	mu      sync.Mutex
	sources map[uuid.UUID]*domain.BatchSource
}

func newFakeSourceStore() *fakeSourceStore {
	return &fakeSourceStore{sources: make(map[uuid.UUID]*domain.BatchSource)}
}

func (s *fakeSourceStore) Create(ctx context.Context, source *domain.BatchSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *source
	s.sources[source.ID] = &copied
	return nil
}

func (s *fakeSourceStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.BatchSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.sources[id]
	if !ok {
		return nil, store.ErrSourceNotFound
	}
	copied := *source
	return &copied, nil
}

func (s *fakeSourceStore) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*domain.BatchSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.BatchSource
	for _, source := range s.sources {
		if source.BatchID == batchID {
			copied := *source
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeSourceStore) RecordSubmission(ctx context.Context, id uuid.UUID, jobID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.sources[id]
	if !ok {
		return store.ErrSourceNotFound
	}
	source.JobID = jobID
	source.RunID = runID
	return nil
}

func (s *fakeSourceStore) MarkScraped(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.sources[id]
	if !ok {
		return store.ErrSourceNotFound
	}
	if source.Status == domain.SourceStatusSubmitted {
		source.Status = domain.SourceStatusScraped
	}
	return nil
}

func (s *fakeSourceStore) MarkAssetCreated(ctx context.Context, id, assetID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.sources[id]
	if !ok {
		return false, store.ErrSourceNotFound
	}
	if source.Status != domain.SourceStatusSubmitted && source.Status != domain.SourceStatusScraped {
		return false, nil
	}
	source.Status = domain.SourceStatusAssetCreated
	source.AssetID = &assetID
	return true, nil
}

func (s *fakeSourceStore) MarkCategorized(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.sources[id]
	if !ok {
		return false, store.ErrSourceNotFound
	}
	if source.Status != domain.SourceStatusAssetCreated {
		return false, nil
	}
	source.Status = domain.SourceStatusCategorized
	return true, nil
}

func (s *fakeSourceStore) MarkFailed(ctx context.Context, id uuid.UUID, errorText string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.sources[id]
	if !ok {
		return false, store.ErrSourceNotFound
	}
	if source.Status.IsTerminal() {
		return false, nil
	}
	source.Status = domain.SourceStatusFailed
	source.ErrorText = errorText
	return true, nil
}

func (s *fakeSourceStore) WithTx(tx *sql.Tx) store.SourceStore { return s }

type fakeAssetStore struct {
	mu     sync.Mutex
	assets map[uuid.UUID]*domain.Asset
}

func newFakeAssetStore() *fakeAssetStore {
	return &fakeAssetStore{assets: make(map[uuid.UUID]*domain.Asset)}
}

func (s *fakeAssetStore) Create(ctx context.Context, asset *domain.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if asset.SourceURL != "" {
		for _, existing := range s.assets {
			if existing.ContractID == asset.ContractID &&
				strings.EqualFold(existing.SourceURL, asset.SourceURL) {
				return store.ErrDuplicate
			}
		}
	}
	copied := *asset
	s.assets[asset.ID] = &copied
	return nil
}

func (s *fakeAssetStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[id]
	if !ok {
		return nil, store.ErrAssetNotFound
	}
	copied := *asset
	return &copied, nil
}

func (s *fakeAssetStore) FindBySourceURL(ctx context.Context, contractID uuid.UUID, sourceURL string) (*domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, asset := range s.assets {
		if asset.ContractID == contractID && strings.EqualFold(asset.SourceURL, sourceURL) {
			copied := *asset
			return &copied, nil
		}
	}
	return nil, store.ErrAssetNotFound
}

func (s *fakeAssetStore) ListExistingSourceURLs(ctx context.Context, contractID uuid.UUID, urls []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, u := range urls {
		for _, asset := range s.assets {
			if asset.ContractID == contractID && strings.EqualFold(asset.SourceURL, u) {
				out = append(out, strings.ToLower(u))
				break
			}
		}
	}
	return out, nil
}

func (s *fakeAssetStore) ListByContract(ctx context.Context, contractID uuid.UUID, limit int) ([]*domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Asset
	for _, asset := range s.assets {
		if asset.ContractID == contractID {
			copied := *asset
			out = append(out, &copied)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeAssetStore) UpdateContent(ctx context.Context, id uuid.UUID, title, content, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[id]
	if !ok {
		return store.ErrAssetNotFound
	}
	asset.Title = title
	asset.Content = content
	asset.Summary = summary
	return nil
}

func (s *fakeAssetStore) UpdateEnrichment(ctx context.Context, id uuid.UUID, embedding []float32, category string, attributes map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[id]
	if !ok {
		return store.ErrAssetNotFound
	}
	if embedding != nil {
		asset.Embedding = embedding
	}
	if category != "" {
		asset.Category = category
	}
	if asset.Attributes == nil {
		asset.Attributes = make(map[string]any)
	}
	for k, v := range attributes {
		asset.Attributes[k] = v
	}
	return nil
}

func (s *fakeAssetStore) WithTx(tx *sql.Tx) store.AssetStore { return s }

type fakeDeliverableStore struct {
	mu           sync.Mutex
	deliverables map[uuid.UUID]*domain.Deliverable
}

func newFakeDeliverableStore() *fakeDeliverableStore {
	return &fakeDeliverableStore{deliverables: make(map[uuid.UUID]*domain.Deliverable)}
}

func (s *fakeDeliverableStore) put(d *domain.Deliverable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *d
	s.deliverables[d.ID] = &copied
}

func (s *fakeDeliverableStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Deliverable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliverables[id]
	if !ok {
		return nil, store.ErrDeliverableNotFound
	}
	copied := *d
	copied.Metadata = make(map[string]any, len(d.Metadata))
	for k, v := range d.Metadata {
		copied.Metadata[k] = v
	}
	return &copied, nil
}

func (s *fakeDeliverableStore) UpdateContent(ctx context.Context, id uuid.UUID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliverables[id]
	if !ok {
		return store.ErrDeliverableNotFound
	}
	d.Content = content
	return nil
}

func (s *fakeDeliverableStore) MergeMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliverables[id]
	if !ok {
		return store.ErrDeliverableNotFound
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	for k, v := range metadata {
		d.Metadata[k] = v
	}
	return nil
}

func (s *fakeDeliverableStore) WithTx(tx *sql.Tx) store.DeliverableStore { return s }

// fakeEmitter records emitted events and optionally delivers each one
// synchronously via onEmit, which lets tests run the enrichment pipeline
// inline instead of through the task runner.
type fakeEmitter struct {
	mu     sync.Mutex
	events []*events.TaskRequestEvent
	onEmit func(ctx context.Context, event *events.TaskRequestEvent) error
}

func (e *fakeEmitter) EmitEvent(ctx context.Context, event *events.TaskRequestEvent) error {
	e.mu.Lock()
	e.events = append(e.events, event)
	onEmit := e.onEmit
	e.mu.Unlock()
	if onEmit != nil {
		return onEmit(ctx, event)
	}
	return nil
}

func (e *fakeEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

// fakeWorker implements the submit and lookup surfaces of the worker
// client against canned responses.
type fakeWorker struct {
	mu          sync.Mutex
	scrapes     []worker.ScrapeRequest
	generations []worker.GenerationRequest
	submitErr   error
	failFor     map[string]error // keyed by URL
	runs        map[string]*worker.RunResult
	runErr      error
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{
		failFor: make(map[string]error),
		runs:    make(map[string]*worker.RunResult),
	}
}

func (w *fakeWorker) SubmitScrape(ctx context.Context, req worker.ScrapeRequest) (*worker.SubmitResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitErr != nil {
		return nil, w.submitErr
	}
	if err, ok := w.failFor[req.URL]; ok {
		return nil, err
	}
	w.scrapes = append(w.scrapes, req)
	return &worker.SubmitResponse{
		JobID: uuid.New().String(),
		RunID: uuid.New().String(),
	}, nil
}

func (w *fakeWorker) SubmitGeneration(ctx context.Context, req worker.GenerationRequest) (*worker.SubmitResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitErr != nil {
		return nil, w.submitErr
	}
	w.generations = append(w.generations, req)
	return &worker.SubmitResponse{JobID: "job-gen", RunID: "run-gen"}, nil
}

func (w *fakeWorker) GetRun(ctx context.Context, runID string) (*worker.RunResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runErr != nil {
		return nil, w.runErr
	}
	result, ok := w.runs[runID]
	if !ok {
		return nil, worker.ErrRunNotFound
	}
	return result, nil
}
