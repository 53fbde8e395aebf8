package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kwestin/docsmith-api/internal/events"
)

// EnrichmentEventHandler implements events.EventHandler, turning asset
// enrichment requests into durable tasks on the runner.
type EnrichmentEventHandler struct {
	factory *AssetEnrichmentTaskFactory
	runner  *TaskRunner
	logger  *slog.Logger
}

// NewEnrichmentEventHandler creates the handler that bridges emitted
// events to the task runner.
func NewEnrichmentEventHandler(
	factory *AssetEnrichmentTaskFactory,
	runner *TaskRunner,
	logger *slog.Logger,
) *EnrichmentEventHandler {
	return &EnrichmentEventHandler{
		factory: factory,
		runner:  runner,
		logger:  logger.With("component", "enrichment_event_handler"),
	}
}

// Ensure EnrichmentEventHandler implements events.EventHandler
var _ events.EventHandler = (*EnrichmentEventHandler)(nil)

// HandleEvent processes enrichment request events by creating and
// submitting tasks. Events of other types are ignored.
func (h *EnrichmentEventHandler) HandleEvent(ctx context.Context, event *events.TaskRequestEvent) error {
	if event.Type != events.EventTypeAssetEnrichment {
		h.logger.Debug("ignoring event with unsupported type",
			"event_type", event.Type,
			"event_id", event.ID)
		return nil
	}

	var payload events.AssetEnrichmentRequested
	if err := event.UnmarshalPayload(&payload); err != nil {
		h.logger.Error("failed to unmarshal payload", "error", err, "event_id", event.ID)
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	task, err := h.factory.CreateTask(payload.SourceID, payload.BatchID, payload.AssetID)
	if err != nil {
		h.logger.Error("failed to create task",
			"error", err,
			"source_id", payload.SourceID,
			"event_id", event.ID)
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := h.runner.Submit(ctx, task); err != nil {
		h.logger.Error("failed to submit task",
			"error", err,
			"task_id", task.ID(),
			"event_id", event.ID)
		return fmt.Errorf("failed to submit task: %w", err)
	}

	h.logger.Debug("enrichment task submitted",
		"task_id", task.ID(),
		"source_id", payload.SourceID,
		"event_id", event.ID)
	return nil
}
