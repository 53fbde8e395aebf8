package events

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

type recordingHandler struct {
	events []*TaskRequestEvent
	err    error
}

func (h *recordingHandler) HandleEvent(ctx context.Context, event *TaskRequestEvent) error {
	h.events = append(h.events, event)
	return h.err
}

func TestEmitEvent_DeliversToAllHandlers(t *testing.T) {
	t.Parallel()

	emitter := NewInMemoryEventEmitter(slog.Default())
	first := &recordingHandler{}
	second := &recordingHandler{}
	emitter.RegisterHandler(first)
	emitter.RegisterHandler(second)

	event, err := NewTaskRequestEvent(EventTypeAssetEnrichment, AssetEnrichmentRequested{
		SourceID: uuid.New(),
		BatchID:  uuid.New(),
		AssetID:  uuid.New(),
	})
	if err != nil {
		t.Fatalf("NewTaskRequestEvent returned error: %v", err)
	}

	if err := emitter.EmitEvent(context.Background(), event); err != nil {
		t.Fatalf("EmitEvent returned error: %v", err)
	}

	if len(first.events) != 1 || len(second.events) != 1 {
		t.Errorf("expected both handlers to receive the event, got %d and %d",
			len(first.events), len(second.events))
	}
	if first.events[0].ID != event.ID {
		t.Errorf("handler received wrong event: got %s, want %s", first.events[0].ID, event.ID)
	}
}

func TestEmitEvent_NoHandlersIsNotAnError(t *testing.T) {
	t.Parallel()

	emitter := NewInMemoryEventEmitter(slog.Default())
	event, err := NewTaskRequestEvent(EventTypeAssetEnrichment, AssetEnrichmentRequested{})
	if err != nil {
		t.Fatalf("NewTaskRequestEvent returned error: %v", err)
	}

	if err := emitter.EmitEvent(context.Background(), event); err != nil {
		t.Errorf("expected nil error with no handlers, got %v", err)
	}
}

func TestEmitEvent_HandlerFailureStillDeliversToRest(t *testing.T) {
	t.Parallel()

	emitter := NewInMemoryEventEmitter(slog.Default())
	failing := &recordingHandler{err: errors.New("first handler broken")}
	healthy := &recordingHandler{}
	emitter.RegisterHandler(failing)
	emitter.RegisterHandler(healthy)

	event, err := NewTaskRequestEvent(EventTypeAssetEnrichment, AssetEnrichmentRequested{})
	if err != nil {
		t.Fatalf("NewTaskRequestEvent returned error: %v", err)
	}

	emitErr := emitter.EmitEvent(context.Background(), event)
	if emitErr == nil || emitErr.Error() != "first handler broken" {
		t.Errorf("expected the first handler's error, got %v", emitErr)
	}
	if len(healthy.events) != 1 {
		t.Errorf("healthy handler should still receive the event, got %d deliveries", len(healthy.events))
	}
}

func TestTaskRequestEvent_PayloadRoundTrip(t *testing.T) {
	t.Parallel()

	want := AssetEnrichmentRequested{
		SourceID: uuid.New(),
		BatchID:  uuid.New(),
		AssetID:  uuid.New(),
	}
	event, err := NewTaskRequestEvent(EventTypeAssetEnrichment, want)
	if err != nil {
		t.Fatalf("NewTaskRequestEvent returned error: %v", err)
	}

	var got AssetEnrichmentRequested
	if err := event.UnmarshalPayload(&got); err != nil {
		t.Fatalf("UnmarshalPayload returned error: %v", err)
	}
	if got != want {
		t.Errorf("payload round trip mismatch: got %+v, want %+v", got, want)
	}
}
