package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kwestin/docsmith-api/internal/domain"
	"github.com/kwestin/docsmith-api/internal/platform/logger"
	"github.com/kwestin/docsmith-api/internal/store"
)

// PostgresAssetStore implements the store.AssetStore interface
// using a PostgreSQL database as the storage backend.
type PostgresAssetStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresAssetStore creates a new PostgreSQL implementation of the
// AssetStore interface. If logger is nil, a default logger will be used.
func NewPostgresAssetStore(db store.DBTX, logger *slog.Logger) *PostgresAssetStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresAssetStore{
		db:     db,
		logger: logger.With(slog.String("component", "asset_store")),
	}
}

// Ensure PostgresAssetStore implements store.AssetStore interface
var _ store.AssetStore = (*PostgresAssetStore)(nil)

// Create implements store.AssetStore.Create
func (s *PostgresAssetStore) Create(ctx context.Context, asset *domain.Asset) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := asset.Validate(); err != nil {
		log.Warn("asset validation failed during create",
			slog.String("error", err.Error()),
			slog.String("asset_id", asset.ID.String()))
		return err
	}

	attributesJSON, err := marshalOrNull(asset.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode asset attributes: %w", err)
	}
	embeddingJSON, err := marshalOrNull(asset.Embedding)
	if err != nil {
		return fmt.Errorf("failed to encode asset embedding: %w", err)
	}

	query := `
		INSERT INTO assets
			(id, contract_id, title, content, summary, source_url, category, attributes, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		asset.ID,
		asset.ContractID,
		asset.Title,
		asset.Content,
		asset.Summary,
		asset.SourceURL,
		asset.Category,
		attributesJSON,
		embeddingJSON,
		asset.CreatedAt,
		asset.UpdatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolationCode:
				return fmt.Errorf("%w: asset for source URL %q", store.ErrDuplicate, asset.SourceURL)
			case pgForeignKeyViolationCode:
				return fmt.Errorf("%w: contract with ID %s not found",
					store.ErrInvalidEntity, asset.ContractID)
			}
		}

		log.Error("failed to create asset",
			slog.String("error", err.Error()),
			slog.String("asset_id", asset.ID.String()))
		return err
	}

	log.Info("asset created",
		slog.String("asset_id", asset.ID.String()),
		slog.String("contract_id", asset.ContractID.String()),
		slog.String("source_url", asset.SourceURL))
	return nil
}

// GetByID implements store.AssetStore.GetByID
func (s *PostgresAssetStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	return s.getOne(ctx, `
		SELECT id, contract_id, title, content, summary, source_url, category, attributes, embedding, created_at, updated_at
		FROM assets
		WHERE id = $1
	`, id)
}

// FindBySourceURL implements store.AssetStore.FindBySourceURL
func (s *PostgresAssetStore) FindBySourceURL(
	ctx context.Context,
	contractID uuid.UUID,
	sourceURL string,
) (*domain.Asset, error) {
	return s.getOne(ctx, `
		SELECT id, contract_id, title, content, summary, source_url, category, attributes, embedding, created_at, updated_at
		FROM assets
		WHERE contract_id = $1 AND lower(source_url) = lower($2)
	`, contractID, sourceURL)
}

func (s *PostgresAssetStore) getOne(ctx context.Context, query string, args ...any) (*domain.Asset, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	asset, err := scanAsset(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrAssetNotFound
		}
		log.Error("failed to query asset", slog.String("error", err.Error()))
		return nil, err
	}

	return asset, nil
}

// ListExistingSourceURLs implements store.AssetStore.ListExistingSourceURLs
func (s *PostgresAssetStore) ListExistingSourceURLs(
	ctx context.Context,
	contractID uuid.UUID,
	urls []string,
) ([]string, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(urls) == 0 {
		return []string{}, nil
	}

	// database/sql has no native slice binding; the url list rides in as a
	// jsonb array and is unpacked server-side.
	urlsJSON, err := json.Marshal(urls)
	if err != nil {
		return nil, fmt.Errorf("failed to encode url list: %w", err)
	}

	query := `
		SELECT DISTINCT lower(source_url)
		FROM assets
		WHERE contract_id = $1
		  AND lower(source_url) IN (
			SELECT lower(value) FROM jsonb_array_elements_text($2::jsonb)
		  )
	`

	rows, err := s.db.QueryContext(ctx, query, contractID, urlsJSON)
	if err != nil {
		log.Error("failed to list existing source URLs",
			slog.String("error", err.Error()),
			slog.String("contract_id", contractID.String()))
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	existing := []string{}
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		existing = append(existing, url)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return existing, nil
}

// ListByContract implements store.AssetStore.ListByContract
func (s *PostgresAssetStore) ListByContract(
	ctx context.Context,
	contractID uuid.UUID,
	limit int,
) ([]*domain.Asset, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, contract_id, title, content, summary, source_url, category, attributes, embedding, created_at, updated_at
		FROM assets
		WHERE contract_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, contractID, limit)
	if err != nil {
		log.Error("failed to list assets by contract",
			slog.String("error", err.Error()),
			slog.String("contract_id", contractID.String()))
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	assets := []*domain.Asset{}
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return assets, nil
}

// UpdateContent implements store.AssetStore.UpdateContent
func (s *PostgresAssetStore) UpdateContent(ctx context.Context, id uuid.UUID, title, content, summary string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE assets
		SET title = $1, content = $2, summary = $3, updated_at = $4
		WHERE id = $5
	`

	result, err := s.db.ExecContext(ctx, query, title, content, summary, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to update asset content",
			slog.String("error", err.Error()),
			slog.String("asset_id", id.String()))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrAssetNotFound
	}

	return nil
}

// UpdateEnrichment implements store.AssetStore.UpdateEnrichment
func (s *PostgresAssetStore) UpdateEnrichment(
	ctx context.Context,
	id uuid.UUID,
	embedding []float32,
	category string,
	attributes map[string]any,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	attributesJSON, err := marshalOrNull(attributes)
	if err != nil {
		return fmt.Errorf("failed to encode asset attributes: %w", err)
	}
	embeddingJSON, err := marshalOrNull(embedding)
	if err != nil {
		return fmt.Errorf("failed to encode asset embedding: %w", err)
	}

	// Attribute updates merge; absent keys survive. Category and embedding
	// are scalar-style replacements, with COALESCE keeping prior values
	// when enrichment produced nothing new.
	query := `
		UPDATE assets
		SET attributes = COALESCE(attributes, '{}'::jsonb) || COALESCE($1::jsonb, '{}'::jsonb),
			category = COALESCE(NULLIF($2, ''), category),
			embedding = COALESCE($3::jsonb, embedding),
			updated_at = $4
		WHERE id = $5
	`

	result, err := s.db.ExecContext(ctx, query, attributesJSON, category, embeddingJSON, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to update asset enrichment",
			slog.String("error", err.Error()),
			slog.String("asset_id", id.String()))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrAssetNotFound
	}

	return nil
}

// WithTx implements store.AssetStore.WithTx
func (s *PostgresAssetStore) WithTx(tx *sql.Tx) store.AssetStore {
	return &PostgresAssetStore{
		db:     tx,
		logger: s.logger,
	}
}

func scanAsset(row rowScanner) (*domain.Asset, error) {
	var asset domain.Asset
	var summary, sourceURL, category sql.NullString
	var attributesJSON, embeddingJSON []byte

	err := row.Scan(
		&asset.ID,
		&asset.ContractID,
		&asset.Title,
		&asset.Content,
		&summary,
		&sourceURL,
		&category,
		&attributesJSON,
		&embeddingJSON,
		&asset.CreatedAt,
		&asset.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	asset.Summary = summary.String
	asset.SourceURL = sourceURL.String
	asset.Category = category.String
	if len(attributesJSON) > 0 {
		if err := json.Unmarshal(attributesJSON, &asset.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode asset attributes: %w", err)
		}
	}
	if len(embeddingJSON) > 0 {
		if err := json.Unmarshal(embeddingJSON, &asset.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode asset embedding: %w", err)
		}
	}

	return &asset, nil
}

// marshalOrNull encodes v as JSON, passing nil through as SQL NULL.
func marshalOrNull(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	case []float32:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}
