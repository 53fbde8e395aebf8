package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwestin/docsmith-api/internal/domain"
	"github.com/kwestin/docsmith-api/internal/events"
	"github.com/kwestin/docsmith-api/internal/platform/worker"
	"github.com/kwestin/docsmith-api/internal/task"
)

type fakeEmbedder struct {
	err error
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeCategorizer struct {
	err error
}

func (c *fakeCategorizer) Categorize(ctx context.Context, title, content string) (*task.Classification, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &task.Classification{
		Category:   "agreement",
		Attributes: map[string]any{"party": "Acme Corp"},
	}, nil
}

// callbackFixture wires a CallbackService to in-memory stores, with the
// enrichment task executed synchronously on emit so tests observe the
// whole success pipeline.
type callbackFixture struct {
	service     *CallbackService
	batches     *fakeBatchStore
	sources     *fakeSourceStore
	assets      *fakeAssetStore
	deliverable *fakeDeliverableStore
	emitter     *fakeEmitter
	embedder    *fakeEmbedder
	categorizer *fakeCategorizer
}

func newCallbackFixture(t *testing.T) *callbackFixture {
	t.Helper()

	f := &callbackFixture{
		batches:     newFakeBatchStore(),
		sources:     newFakeSourceStore(),
		assets:      newFakeAssetStore(),
		deliverable: newFakeDeliverableStore(),
		emitter:     &fakeEmitter{},
		embedder:    &fakeEmbedder{},
		categorizer: &fakeCategorizer{},
	}

	logger := slog.Default()
	factory := task.NewAssetEnrichmentTaskFactory(
		f.sources, f.assets, f.batches, f.embedder, f.categorizer, logger)

	f.emitter.onEmit = func(ctx context.Context, event *events.TaskRequestEvent) error {
		var payload events.AssetEnrichmentRequested
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		enrichment, err := factory.CreateTask(payload.SourceID, payload.BatchID, payload.AssetID)
		if err != nil {
			return err
		}
		return enrichment.Execute(ctx)
	}

	f.service = NewCallbackService(
		f.batches, f.sources, f.assets, f.deliverable, f.emitter, logger)
	return f
}

// seedBatch creates a batch with n submitted sources.
func (f *callbackFixture) seedBatch(t *testing.T, total int) (*domain.SourceBatch, []*domain.BatchSource) {
	t.Helper()
	ctx := context.Background()

	batch, err := domain.NewSourceBatch(uuid.New(), uuid.New(), total, domain.BatchOptions{})
	require.NoError(t, err)
	require.NoError(t, f.batches.Create(ctx, batch))

	sources := make([]*domain.BatchSource, 0, total)
	for i := 0; i < total; i++ {
		src, err := domain.NewBatchSource(batch.ID, batch.ContractID,
			"https://example.com/doc-"+uuid.New().String())
		require.NoError(t, err)
		require.NoError(t, f.sources.Create(ctx, src))
		sources = append(sources, src)
	}
	return batch, sources
}

func successPayload(sourceID, batchID uuid.UUID) *CallbackPayload {
	return &CallbackPayload{
		JobID:  "job-1",
		Status: "completed",
		Metadata: map[string]string{
			"source_id": sourceID.String(),
			"batch_id":  batchID.String(),
		},
		Output: &worker.JobOutput{
			Title:   "Master Services Agreement",
			Content: "This agreement is entered into by and between...",
			Summary: "MSA between two parties.",
		},
	}
}

func failurePayload(sourceID, batchID uuid.UUID) *CallbackPayload {
	return &CallbackPayload{
		JobID:  "job-1",
		Status: "failed",
		Metadata: map[string]string{
			"source_id": sourceID.String(),
			"batch_id":  batchID.String(),
		},
		Error: "fetch timed out",
	}
}

func TestHandleCallback_SourceSuccess(t *testing.T) {
	f := newCallbackFixture(t)
	ctx := context.Background()
	batch, sources := f.seedBatch(t, 1)
	src := sources[0]

	err := f.service.HandleCallback(ctx, successPayload(src.ID, batch.ID))
	require.NoError(t, err)

	got, err := f.sources.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceStatusCategorized, got.Status)
	require.NotNil(t, got.AssetID)

	asset, err := f.assets.GetByID(ctx, *got.AssetID)
	require.NoError(t, err)
	assert.Equal(t, "Master Services Agreement", asset.Title)
	assert.Equal(t, "agreement", asset.Category)
	assert.NotEmpty(t, asset.Embedding)
	assert.Equal(t, "Acme Corp", asset.Attributes["party"])

	updated, err := f.batches.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Completed)
	assert.Equal(t, 0, updated.Failed)
	assert.Equal(t, domain.BatchStatusCompleted, updated.Status)
	assert.NotNil(t, updated.CompletedAt)
}

func TestHandleCallback_DuplicateSuccessDelivery(t *testing.T) {
	f := newCallbackFixture(t)
	ctx := context.Background()
	batch, sources := f.seedBatch(t, 1)
	src := sources[0]
	payload := successPayload(src.ID, batch.ID)

	require.NoError(t, f.service.HandleCallback(ctx, payload))
	firstState, err := f.sources.GetByID(ctx, src.ID)
	require.NoError(t, err)

	// Redelivery of the identical payload must change nothing and must
	// not count a second success.
	require.NoError(t, f.service.HandleCallback(ctx, payload))

	secondState, err := f.sources.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, firstState.Status, secondState.Status)
	assert.Equal(t, firstState.AssetID, secondState.AssetID)

	updated, err := f.batches.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Completed, "success must be counted exactly once")
	assert.Equal(t, domain.BatchStatusCompleted, updated.Status)
}

func TestHandleCallback_CallbackForFailedSourceIsNoOp(t *testing.T) {
	f := newCallbackFixture(t)
	ctx := context.Background()
	batch, sources := f.seedBatch(t, 1)
	src := sources[0]

	require.NoError(t, f.service.HandleCallback(ctx, failurePayload(src.ID, batch.ID)))

	// A late success delivery for an already-failed source is ignored
	// regardless of its declared status.
	require.NoError(t, f.service.HandleCallback(ctx, successPayload(src.ID, batch.ID)))

	got, err := f.sources.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceStatusFailed, got.Status)
	assert.Equal(t, "fetch timed out", got.ErrorText)

	updated, err := f.batches.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Completed)
	assert.Equal(t, 1, updated.Failed)
	assert.Equal(t, domain.BatchStatusCompletedWithErrors, updated.Status)
}

func TestHandleCallback_MalformedSuccessBecomesFailure(t *testing.T) {
	f := newCallbackFixture(t)
	ctx := context.Background()
	batch, sources := f.seedBatch(t, 1)
	src := sources[0]

	payload := successPayload(src.ID, batch.ID)
	payload.Output = nil

	require.NoError(t, f.service.HandleCallback(ctx, payload))

	got, err := f.sources.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceStatusFailed, got.Status)
	assert.Contains(t, got.ErrorText, "success without output")

	updated, err := f.batches.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Failed, "malformed success must count as a failure, not vanish")
	assert.Equal(t, domain.BatchStatusCompletedWithErrors, updated.Status)
}

func TestHandleCallback_OutOfOrderDeliveries(t *testing.T) {
	f := newCallbackFixture(t)
	ctx := context.Background()
	batch, sources := f.seedBatch(t, 3)

	// Callbacks arrive out of submission order: second succeeds, third
	// fails, first succeeds last.
	require.NoError(t, f.service.HandleCallback(ctx, successPayload(sources[1].ID, batch.ID)))
	require.NoError(t, f.service.HandleCallback(ctx, failurePayload(sources[2].ID, batch.ID)))

	mid, err := f.batches.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusInProgress, mid.Status, "batch must stay open until every source is counted")

	require.NoError(t, f.service.HandleCallback(ctx, successPayload(sources[0].ID, batch.ID)))

	final, err := f.batches.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, final.Completed)
	assert.Equal(t, 1, final.Failed)
	assert.Equal(t, domain.BatchStatusCompletedWithErrors, final.Status)
}

func TestHandleCallback_EnrichmentSoftFailureStillCompletes(t *testing.T) {
	f := newCallbackFixture(t)
	f.embedder.err = errors.New("embedding quota exhausted")
	f.categorizer.err = errors.New("model unavailable")
	ctx := context.Background()
	batch, sources := f.seedBatch(t, 1)
	src := sources[0]

	require.NoError(t, f.service.HandleCallback(ctx, successPayload(src.ID, batch.ID)))

	got, err := f.sources.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceStatusCategorized, got.Status,
		"enrichment failures must not keep the source from its terminal state")

	asset, err := f.assets.GetByID(ctx, *got.AssetID)
	require.NoError(t, err)
	assert.Contains(t, asset.Attributes, "enrichment_error")

	updated, err := f.batches.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Completed)
	assert.Equal(t, domain.BatchStatusCompleted, updated.Status)
}

func TestHandleCallback_UnknownSource(t *testing.T) {
	f := newCallbackFixture(t)

	err := f.service.HandleCallback(context.Background(), successPayload(uuid.New(), uuid.New()))
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestHandleCallback_NoEntityIdentifier(t *testing.T) {
	f := newCallbackFixture(t)

	err := f.service.HandleCallback(context.Background(), &CallbackPayload{
		JobID:    "job-1",
		Status:   "completed",
		Metadata: map[string]string{"contract_id": uuid.New().String()},
	})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestHandleCallback_UnrecognizedStatus(t *testing.T) {
	f := newCallbackFixture(t)
	batch, sources := f.seedBatch(t, 1)

	payload := successPayload(sources[0].ID, batch.ID)
	payload.Status = "exploded"

	err := f.service.HandleCallback(context.Background(), payload)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func seedDeliverable(t *testing.T, f *callbackFixture, state *domain.GenerationState) *domain.Deliverable {
	t.Helper()
	d := &domain.Deliverable{
		ID:         uuid.New(),
		ContractID: uuid.New(),
		Title:      "Renewal Summary",
		Metadata:   map[string]any{},
	}
	if state != nil {
		d.Metadata = domain.GenerationMetadata(*state)
	}
	f.deliverable.put(d)
	return d
}

func generationPayload(deliverableID uuid.UUID, status string) *CallbackPayload {
	p := &CallbackPayload{
		JobID:    "job-gen",
		Status:   status,
		Metadata: map[string]string{"deliverable_id": deliverableID.String()},
	}
	if status == "completed" {
		p.Output = &worker.JobOutput{Content: "# Renewal Summary\n..."}
	} else {
		p.Error = "generation blew up"
	}
	return p
}

func TestHandleCallback_GenerationSuccess(t *testing.T) {
	f := newCallbackFixture(t)
	ctx := context.Background()
	d := seedDeliverable(t, f, &domain.GenerationState{
		Status: domain.GenerationStatusSubmitted,
		JobID:  "job-gen",
		RunID:  "run-gen",
	})

	require.NoError(t, f.service.HandleCallback(ctx, generationPayload(d.ID, "completed")))

	got, err := f.deliverable.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "# Renewal Summary\n...", got.Content)

	state, err := got.GenerationState()
	require.NoError(t, err)
	assert.Equal(t, domain.GenerationStatusCompleted, state.Status)
	assert.NotNil(t, state.CompletedAt)
	assert.Empty(t, state.Error)
}

func TestHandleCallback_GenerationDuplicateDelivery(t *testing.T) {
	f := newCallbackFixture(t)
	ctx := context.Background()
	d := seedDeliverable(t, f, &domain.GenerationState{
		Status: domain.GenerationStatusSubmitted,
		JobID:  "job-gen",
	})

	require.NoError(t, f.service.HandleCallback(ctx, generationPayload(d.ID, "completed")))

	// A late failure delivery must not overwrite the completed result.
	require.NoError(t, f.service.HandleCallback(ctx, generationPayload(d.ID, "failed")))

	got, err := f.deliverable.GetByID(ctx, d.ID)
	require.NoError(t, err)
	state, err := got.GenerationState()
	require.NoError(t, err)
	assert.Equal(t, domain.GenerationStatusCompleted, state.Status)
	assert.Equal(t, "# Renewal Summary\n...", got.Content)
}

func TestHandleCallback_GenerationFailure(t *testing.T) {
	f := newCallbackFixture(t)
	ctx := context.Background()
	d := seedDeliverable(t, f, &domain.GenerationState{
		Status: domain.GenerationStatusSubmitted,
	})

	require.NoError(t, f.service.HandleCallback(ctx, generationPayload(d.ID, "failed")))

	got, err := f.deliverable.GetByID(ctx, d.ID)
	require.NoError(t, err)
	state, err := got.GenerationState()
	require.NoError(t, err)
	assert.Equal(t, domain.GenerationStatusFailed, state.Status)
	assert.Equal(t, "generation blew up", state.Error)
	assert.Empty(t, got.Content)
}

func TestHandleCallback_GenerationMalformedSuccess(t *testing.T) {
	f := newCallbackFixture(t)
	ctx := context.Background()
	d := seedDeliverable(t, f, &domain.GenerationState{
		Status: domain.GenerationStatusSubmitted,
	})

	payload := generationPayload(d.ID, "completed")
	payload.Output = nil

	require.NoError(t, f.service.HandleCallback(ctx, payload))

	got, err := f.deliverable.GetByID(ctx, d.ID)
	require.NoError(t, err)
	state, err := got.GenerationState()
	require.NoError(t, err)
	assert.Equal(t, domain.GenerationStatusFailed, state.Status)
	assert.Contains(t, state.Error, "success without output")
}
