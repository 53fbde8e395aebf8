package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/kwestin/docsmith-api/internal/domain"
)

// DeliverableStore defines the interface for deliverable persistence.
// This core never creates or deletes deliverables; it only writes content
// and merges metadata on rows owned by the surrounding content subsystem.
type DeliverableStore interface {
	// GetByID retrieves a deliverable by its unique ID.
	// Returns ErrDeliverableNotFound if the deliverable does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Deliverable, error)

	// UpdateContent replaces the deliverable's generated content body.
	UpdateContent(ctx context.Context, id uuid.UUID, content string) error

	// MergeMetadata overlays the given keys onto the deliverable's metadata.
	// Keys not present in the update are preserved (jsonb merge semantics);
	// keys present replace their previous value wholesale.
	MergeMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error

	// WithTx returns a new DeliverableStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) DeliverableStore
}
