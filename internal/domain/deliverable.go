package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerationStatus represents the lifecycle state of a deliverable
// generation job. It is stored inside the deliverable's metadata rather
// than in its own table.
type GenerationStatus string

// Possible generation status values
const (
	GenerationStatusPending           GenerationStatus = "pending"
	GenerationStatusAssemblingContext GenerationStatus = "assembling_context"
	GenerationStatusSubmitted         GenerationStatus = "submitted"
	GenerationStatusPolling           GenerationStatus = "polling"
	GenerationStatusCompleted         GenerationStatus = "completed"
	GenerationStatusFailed            GenerationStatus = "failed"
)

// Common validation errors for Deliverable
var (
	ErrEmptyDeliverableID         = errors.New("deliverable ID cannot be empty")
	ErrEmptyDeliverableContractID = errors.New("deliverable contract ID cannot be empty")
	ErrInvalidGenerationStatus    = errors.New("invalid generation status")
)

// generationTransitions is the validated transition table for generation
// state. Polling is entered when reconciliation interrogates a job the
// worker reports as still running.
var generationTransitions = map[GenerationStatus][]GenerationStatus{
	GenerationStatusPending:           {GenerationStatusAssemblingContext, GenerationStatusFailed},
	GenerationStatusAssemblingContext: {GenerationStatusSubmitted, GenerationStatusFailed},
	GenerationStatusSubmitted:         {GenerationStatusPolling, GenerationStatusCompleted, GenerationStatusFailed},
	GenerationStatusPolling:           {GenerationStatusCompleted, GenerationStatusFailed},
	GenerationStatusCompleted:         {},
	GenerationStatusFailed:            {},
}

// IsTerminal reports whether the generation status is terminal.
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// CanTransitionTo reports whether moving to next is allowed by the
// transition table.
func (s GenerationStatus) CanTransitionTo(next GenerationStatus) bool {
	for _, allowed := range generationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InFlight reports whether a generation job is currently active, meaning a
// new generation must not be started for the same deliverable.
func (s GenerationStatus) InFlight() bool {
	switch s {
	case GenerationStatusAssemblingContext, GenerationStatusSubmitted, GenerationStatusPolling:
		return true
	default:
		return false
	}
}

// GenerationState is the generation-tracking block embedded in a
// deliverable's metadata under the "generation" key.
type GenerationState struct {
	Status         GenerationStatus `json:"status"`
	JobID          string           `json:"job_id,omitempty"`
	RunID          string           `json:"run_id,omitempty"`
	SubmittedAt    *time.Time       `json:"submitted_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	Error          string           `json:"error,omitempty"`
	ContextSummary string           `json:"context_summary,omitempty"`
}

// Advance validates and applies a status transition on the state.
func (g *GenerationState) Advance(next GenerationStatus) error {
	if _, ok := generationTransitions[next]; !ok {
		return ErrInvalidGenerationStatus
	}
	if !g.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.Status, next)
	}
	g.Status = next
	return nil
}

// generationMetadataKey is where the generation block lives in metadata.
const generationMetadataKey = "generation"

// Deliverable is a generated output document owned by the surrounding
// content subsystem. This core only writes its content and merges its
// metadata; it never deletes one.
type Deliverable struct {
	ID         uuid.UUID      `json:"id"`
	ContractID uuid.UUID      `json:"contract_id"`
	Title      string         `json:"title"`
	Content    string         `json:"content,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Validate checks if the Deliverable has valid identifiers.
func (d *Deliverable) Validate() error {
	if d.ID == uuid.Nil {
		return ErrEmptyDeliverableID
	}
	if d.ContractID == uuid.Nil {
		return ErrEmptyDeliverableContractID
	}
	return nil
}

// GenerationState decodes the generation block from the deliverable's
// metadata. A deliverable that has never been generated reports a pending
// state.
func (d *Deliverable) GenerationState() (GenerationState, error) {
	state := GenerationState{Status: GenerationStatusPending}

	raw, ok := d.Metadata[generationMetadataKey]
	if !ok || raw == nil {
		return state, nil
	}

	// Metadata round-trips through jsonb, so the block arrives as a
	// map[string]any and is re-decoded through JSON.
	data, err := json.Marshal(raw)
	if err != nil {
		return state, fmt.Errorf("failed to encode generation metadata: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("failed to decode generation metadata: %w", err)
	}
	if state.Status == "" {
		state.Status = GenerationStatusPending
	}
	return state, nil
}

// GenerationMetadata wraps a generation state in the metadata shape used
// for merge updates: the generation key is replaced wholesale while sibling
// metadata keys are preserved by the store's merge semantics.
func GenerationMetadata(state GenerationState) map[string]any {
	return map[string]any{generationMetadataKey: state}
}
