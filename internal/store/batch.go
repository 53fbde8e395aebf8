package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/kwestin/docsmith-api/internal/domain"
)

// BatchStore defines the interface for source-batch persistence.
//
// The two increment operations are the only writes shared by concurrent
// actors (each source's callback plus the submitter's failure path). They
// must be implemented as a single atomic read-then-write against the store
// and must return the post-increment counter snapshot so that completion
// can be evaluated without a second, racy read.
type BatchStore interface {
	// Create saves a new batch to the store.
	// Returns validation errors from the domain SourceBatch if data is invalid.
	Create(ctx context.Context, batch *domain.SourceBatch) error

	// GetByID retrieves a batch by its unique ID.
	// Returns ErrBatchNotFound if the batch does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SourceBatch, error)

	// IncrementCompleted atomically adds one to the completed counter and
	// returns the fresh counter snapshot.
	// Returns ErrBatchNotFound if the batch does not exist.
	IncrementCompleted(ctx context.Context, id uuid.UUID) (*domain.BatchCounts, error)

	// IncrementFailed atomically adds one to the failed counter and returns
	// the fresh counter snapshot.
	// Returns ErrBatchNotFound if the batch does not exist.
	IncrementFailed(ctx context.Context, id uuid.UUID) (*domain.BatchCounts, error)

	// FinalizeStatus moves a batch from in_progress to the given terminal
	// status, stamping the completion time. The write is conditional on the
	// batch still being in progress, so redundant or racing finalizations
	// are no-ops rather than errors.
	FinalizeStatus(ctx context.Context, id uuid.UUID, status domain.BatchStatus, completedAt time.Time) error

	// WithTx returns a new BatchStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) BatchStore
}
