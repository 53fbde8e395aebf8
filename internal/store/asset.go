package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/kwestin/docsmith-api/internal/domain"
)

// AssetStore defines the interface for asset persistence.
type AssetStore interface {
	// Create saves a new asset to the store.
	Create(ctx context.Context, asset *domain.Asset) error

	// GetByID retrieves an asset by its unique ID.
	// Returns ErrAssetNotFound if the asset does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Asset, error)

	// FindBySourceURL retrieves the asset a contract already holds for the
	// given (normalized) source URL.
	// Returns ErrAssetNotFound if no such asset exists.
	FindBySourceURL(ctx context.Context, contractID uuid.UUID, sourceURL string) (*domain.Asset, error)

	// ListExistingSourceURLs returns the subset of the given (normalized)
	// URLs for which the contract already has an asset. Used by batch
	// submission to skip duplicates.
	ListExistingSourceURLs(ctx context.Context, contractID uuid.UUID, urls []string) ([]string, error)

	// ListByContract retrieves up to limit assets for a contract, newest
	// first. Used for generation context assembly.
	ListByContract(ctx context.Context, contractID uuid.UUID, limit int) ([]*domain.Asset, error)

	// UpdateContent replaces the primary content fields of an existing
	// asset (re-ingestion of a known source URL).
	UpdateContent(ctx context.Context, id uuid.UUID, title, content, summary string) error

	// UpdateEnrichment records enrichment output: the embedding vector, the
	// assigned category, and extracted attributes. Attributes use merge
	// semantics: keys absent from the update are preserved.
	UpdateEnrichment(ctx context.Context, id uuid.UUID, embedding []float32, category string, attributes map[string]any) error

	// WithTx returns a new AssetStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) AssetStore
}
