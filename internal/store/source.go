package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/kwestin/docsmith-api/internal/domain"
)

// SourceStore defines the interface for batch-source persistence.
//
// The Mark* operations are conditional writes: each one succeeds only when
// the row is currently in a state the transition table allows the move
// from, and reports whether it won. Two callback deliveries racing on the
// same source therefore apply the transition exactly once, and only the
// winner goes on to touch the batch counters.
type SourceStore interface {
	// Create saves a new batch source to the store.
	Create(ctx context.Context, source *domain.BatchSource) error

	// GetByID retrieves a source by its unique ID.
	// Returns ErrSourceNotFound if the source does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.BatchSource, error)

	// ListByBatch retrieves all sources belonging to a batch, ordered by
	// creation time.
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*domain.BatchSource, error)

	// RecordSubmission stores the worker-assigned job and run identifiers
	// after a successful dispatch. The status stays submitted.
	RecordSubmission(ctx context.Context, id uuid.UUID, jobID, runID string) error

	// MarkScraped advances a submitted source to scraped. Sources already
	// past that state are left untouched.
	MarkScraped(ctx context.Context, id uuid.UUID) error

	// MarkAssetCreated advances the source to asset_created and links the
	// asset, provided the source is still in submitted or scraped state.
	// Returns false when another actor already advanced the source.
	MarkAssetCreated(ctx context.Context, id, assetID uuid.UUID) (bool, error)

	// MarkCategorized advances the source from asset_created to the
	// terminal categorized state. Returns false when the source was not in
	// asset_created state.
	MarkCategorized(ctx context.Context, id uuid.UUID) (bool, error)

	// MarkFailed moves the source to the terminal failed state with the
	// given error text, provided it is not already terminal. Returns false
	// when the source had already reached a terminal state.
	MarkFailed(ctx context.Context, id uuid.UUID, errorText string) (bool, error)

	// WithTx returns a new SourceStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) SourceStore
}
