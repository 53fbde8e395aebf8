package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// BatchStatus represents the lifecycle state of a source batch.
type BatchStatus string

// Possible batch status values
const (
	BatchStatusInProgress          BatchStatus = "in_progress"
	BatchStatusCompleted           BatchStatus = "completed"
	BatchStatusCompletedWithErrors BatchStatus = "completed_with_errors"
)

// Common validation errors for SourceBatch
var (
	ErrEmptyBatchID         = errors.New("batch ID cannot be empty")
	ErrEmptyBatchContractID = errors.New("batch contract ID cannot be empty")
	ErrNegativeBatchTotal   = errors.New("batch total cannot be negative")
	ErrInvalidBatchStatus   = errors.New("invalid batch status")
	ErrInvalidBatchCounts   = errors.New("batch counters exceed total")
)

// BatchOptions holds caller-supplied options recorded on a batch at creation.
type BatchOptions struct {
	// Category pre-selects a classification for every asset the batch
	// produces. When set, enrichment skips AI category assignment.
	Category string `json:"category,omitempty"`
}

// SourceBatch represents one bulk source-submission request for a contract.
// Total is fixed at creation time (after deduplication); Completed and
// Failed only ever move forward via atomic store increments.
type SourceBatch struct {
	ID          uuid.UUID    `json:"id"`
	ContractID  uuid.UUID    `json:"contract_id"`
	Total       int          `json:"total"`
	Completed   int          `json:"completed"`
	Failed      int          `json:"failed"`
	Status      BatchStatus  `json:"status"`
	Options     BatchOptions `json:"options"`
	CreatedBy   uuid.UUID    `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// NewSourceBatch creates a batch in progress with the given fixed total.
// A zero total means every input was a duplicate: the batch is created
// already completed, with its completion timestamp stamped.
func NewSourceBatch(
	contractID, createdBy uuid.UUID,
	total int,
	opts BatchOptions,
) (*SourceBatch, error) {
	now := time.Now().UTC()
	batch := &SourceBatch{
		ID:         uuid.New(),
		ContractID: contractID,
		Total:      total,
		Status:     BatchStatusInProgress,
		Options:    opts,
		CreatedBy:  createdBy,
		CreatedAt:  now,
	}

	if total == 0 {
		batch.Status = BatchStatusCompleted
		batch.CompletedAt = &now
	}

	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return batch, nil
}

// Validate checks structural and counter invariants.
func (b *SourceBatch) Validate() error {
	if b.ID == uuid.Nil {
		return ErrEmptyBatchID
	}
	if b.ContractID == uuid.Nil {
		return ErrEmptyBatchContractID
	}
	if b.Total < 0 {
		return ErrNegativeBatchTotal
	}
	if !isValidBatchStatus(b.Status) {
		return ErrInvalidBatchStatus
	}
	if b.Completed+b.Failed > b.Total {
		return ErrInvalidBatchCounts
	}
	return nil
}

// IsTerminal reports whether the batch has reached a terminal status.
func (b *SourceBatch) IsTerminal() bool {
	return b.Status == BatchStatusCompleted || b.Status == BatchStatusCompletedWithErrors
}

// BatchCounts is the counter snapshot a store increment returns. Evaluating
// completion against the snapshot rather than a separate read keeps the
// decision consistent under concurrent increments.
type BatchCounts struct {
	Total     int
	Completed int
	Failed    int
	Status    BatchStatus
}

// EvaluateBatchCompletion decides whether a batch with the given counters
// should transition to a terminal status. It returns the terminal status and
// true only when the batch is still in progress and every item has been
// counted; already-terminal batches are left untouched, so redundant calls
// are safe.
func EvaluateBatchCompletion(total, completed, failed int, current BatchStatus) (BatchStatus, bool) {
	if current != BatchStatusInProgress {
		return current, false
	}
	if completed+failed < total {
		return current, false
	}
	if failed > 0 {
		return BatchStatusCompletedWithErrors, true
	}
	return BatchStatusCompleted, true
}

func isValidBatchStatus(status BatchStatus) bool {
	switch status {
	case BatchStatusInProgress, BatchStatusCompleted, BatchStatusCompletedWithErrors:
		return true
	default:
		return false
	}
}
