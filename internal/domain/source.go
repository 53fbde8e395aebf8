package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceStatus represents the processing state of a single batch source.
type SourceStatus string

// Possible source status values, in progression order. Failed is reachable
// from any non-terminal state.
const (
	SourceStatusSubmitted    SourceStatus = "submitted"
	SourceStatusScraped      SourceStatus = "scraped"
	SourceStatusAssetCreated SourceStatus = "asset_created"
	SourceStatusCategorized  SourceStatus = "categorized"
	SourceStatusFailed       SourceStatus = "failed"
)

// Common validation errors for BatchSource
var (
	ErrEmptySourceID         = errors.New("source ID cannot be empty")
	ErrEmptySourceBatchID    = errors.New("source batch ID cannot be empty")
	ErrEmptySourceContractID = errors.New("source contract ID cannot be empty")
	ErrEmptySourceURL        = errors.New("source URL cannot be empty")
	ErrInvalidSourceStatus   = errors.New("invalid source status")

	// ErrInvalidTransition is returned when a status change is not present
	// in the transition table. Callers that receive it after an idempotency
	// check can treat it as a duplicate delivery and no-op.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// sourceTransitions is the validated transition table for batch sources.
// Terminal states map to an empty set.
var sourceTransitions = map[SourceStatus][]SourceStatus{
	SourceStatusSubmitted:    {SourceStatusScraped, SourceStatusAssetCreated, SourceStatusFailed},
	SourceStatusScraped:      {SourceStatusAssetCreated, SourceStatusFailed},
	SourceStatusAssetCreated: {SourceStatusCategorized, SourceStatusFailed},
	SourceStatusCategorized:  {},
	SourceStatusFailed:       {},
}

// IsTerminal reports whether the status is one of the two terminal states.
func (s SourceStatus) IsTerminal() bool {
	return s == SourceStatusCategorized || s == SourceStatusFailed
}

// CanTransitionTo reports whether moving to next is allowed by the
// transition table.
func (s SourceStatus) CanTransitionTo(next SourceStatus) bool {
	for _, allowed := range sourceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// BatchSource is one unit of work within a batch: a single URL submitted to
// the worker service. Its status is driven exclusively by the callback and
// reconciliation paths once the batch has been dispatched.
type BatchSource struct {
	ID         uuid.UUID    `json:"id"`
	BatchID    uuid.UUID    `json:"batch_id"`
	ContractID uuid.UUID    `json:"contract_id"`
	URL        string       `json:"url"`
	Status     SourceStatus `json:"status"`
	JobID      string       `json:"job_id,omitempty"`
	RunID      string       `json:"run_id,omitempty"`
	AssetID    *uuid.UUID   `json:"asset_id,omitempty"`
	ErrorText  string       `json:"error_text,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// NewBatchSource creates a source in the initial submitted state.
func NewBatchSource(batchID, contractID uuid.UUID, url string) (*BatchSource, error) {
	now := time.Now().UTC()
	source := &BatchSource{
		ID:         uuid.New(),
		BatchID:    batchID,
		ContractID: contractID,
		URL:        url,
		Status:     SourceStatusSubmitted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := source.Validate(); err != nil {
		return nil, err
	}
	return source, nil
}

// Validate checks if the BatchSource has valid data.
func (s *BatchSource) Validate() error {
	if s.ID == uuid.Nil {
		return ErrEmptySourceID
	}
	if s.BatchID == uuid.Nil {
		return ErrEmptySourceBatchID
	}
	if s.ContractID == uuid.Nil {
		return ErrEmptySourceContractID
	}
	if s.URL == "" {
		return ErrEmptySourceURL
	}
	if !isValidSourceStatus(s.Status) {
		return ErrInvalidSourceStatus
	}
	return nil
}

// Advance moves the source to the next status, enforcing the transition
// table. Returns ErrInvalidTransition when the move is not allowed.
func (s *BatchSource) Advance(next SourceStatus) error {
	if !isValidSourceStatus(next) {
		return ErrInvalidSourceStatus
	}
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func isValidSourceStatus(status SourceStatus) bool {
	_, ok := sourceTransitions[status]
	return ok
}
