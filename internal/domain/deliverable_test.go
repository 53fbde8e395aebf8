package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGenerationStatusInFlight(t *testing.T) {
	t.Parallel()

	inFlight := map[GenerationStatus]bool{
		GenerationStatusPending:           false,
		GenerationStatusAssemblingContext: true,
		GenerationStatusSubmitted:         true,
		GenerationStatusPolling:           true,
		GenerationStatusCompleted:         false,
		GenerationStatusFailed:            false,
	}

	for status, want := range inFlight {
		if got := status.InFlight(); got != want {
			t.Errorf("InFlight(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestGenerationStateAdvance(t *testing.T) {
	t.Parallel()

	state := GenerationState{Status: GenerationStatusPending}

	steps := []GenerationStatus{
		GenerationStatusAssemblingContext,
		GenerationStatusSubmitted,
		GenerationStatusPolling,
		GenerationStatusCompleted,
	}
	for _, next := range steps {
		if err := state.Advance(next); err != nil {
			t.Fatalf("Expected transition to %s to succeed, got %v", next, err)
		}
	}

	err := state.Advance(GenerationStatusFailed)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition from completed, got %v", err)
	}
}

func TestDeliverableGenerationState_DefaultsToPending(t *testing.T) {
	t.Parallel()

	deliverable := &Deliverable{
		ID:         uuid.New(),
		ContractID: uuid.New(),
	}

	state, err := deliverable.GenerationState()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if state.Status != GenerationStatusPending {
		t.Errorf("Expected pending default, got %s", state.Status)
	}
}

func TestDeliverableGenerationState_DecodesMetadataBlock(t *testing.T) {
	t.Parallel()

	// Metadata arrives from jsonb as map[string]any, the same shape a
	// merge update previously wrote.
	submittedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	deliverable := &Deliverable{
		ID:         uuid.New(),
		ContractID: uuid.New(),
		Metadata: map[string]any{
			"generation": map[string]any{
				"status":       "submitted",
				"job_id":       "job-42",
				"run_id":       "run-42",
				"submitted_at": submittedAt.Format(time.RFC3339),
			},
			"unrelated": "kept by merge semantics",
		},
	}

	state, err := deliverable.GenerationState()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if state.Status != GenerationStatusSubmitted {
		t.Errorf("Expected status submitted, got %s", state.Status)
	}
	if state.JobID != "job-42" || state.RunID != "run-42" {
		t.Errorf("Expected job/run identifiers decoded, got %q %q", state.JobID, state.RunID)
	}
	if state.SubmittedAt == nil || !state.SubmittedAt.Equal(submittedAt) {
		t.Errorf("Expected submitted_at %v, got %v", submittedAt, state.SubmittedAt)
	}
}

func TestGenerationMetadata_WrapsStateUnderGenerationKey(t *testing.T) {
	t.Parallel()

	state := GenerationState{Status: GenerationStatusFailed, Error: "boom"}
	metadata := GenerationMetadata(state)

	wrapped, ok := metadata["generation"].(GenerationState)
	if !ok {
		t.Fatalf("Expected generation key to hold the state, got %T", metadata["generation"])
	}
	if wrapped.Status != GenerationStatusFailed || wrapped.Error != "boom" {
		t.Errorf("Expected wrapped state preserved, got %+v", wrapped)
	}
}
