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
	"github.com/kwestin/docsmith-api/internal/domain"
	"github.com/kwestin/docsmith-api/internal/platform/logger"
	"github.com/kwestin/docsmith-api/internal/store"
)

// PostgresDeliverableStore implements the store.DeliverableStore interface
// using a PostgreSQL database as the storage backend.
type PostgresDeliverableStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresDeliverableStore creates a new PostgreSQL implementation of the
// DeliverableStore interface. If logger is nil, a default logger will be used.
func NewPostgresDeliverableStore(db store.DBTX, logger *slog.Logger) *PostgresDeliverableStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresDeliverableStore{
		db:     db,
		logger: logger.With(slog.String("component", "deliverable_store")),
	}
}

// Ensure PostgresDeliverableStore implements store.DeliverableStore interface
var _ store.DeliverableStore = (*PostgresDeliverableStore)(nil)

// GetByID implements store.DeliverableStore.GetByID
func (s *PostgresDeliverableStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Deliverable, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, contract_id, title, content, metadata, created_at, updated_at
		FROM deliverables
		WHERE id = $1
	`

	var deliverable domain.Deliverable
	var content sql.NullString
	var metadataJSON []byte

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&deliverable.ID,
		&deliverable.ContractID,
		&deliverable.Title,
		&content,
		&metadataJSON,
		&deliverable.CreatedAt,
		&deliverable.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrDeliverableNotFound
		}
		log.Error("failed to get deliverable by ID",
			slog.String("error", err.Error()),
			slog.String("deliverable_id", id.String()))
		return nil, err
	}

	deliverable.Content = content.String
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &deliverable.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode deliverable metadata: %w", err)
		}
	}

	return &deliverable, nil
}

// UpdateContent implements store.DeliverableStore.UpdateContent
func (s *PostgresDeliverableStore) UpdateContent(ctx context.Context, id uuid.UUID, content string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE deliverables
		SET content = $1, updated_at = $2
		WHERE id = $3
	`

	result, err := s.db.ExecContext(ctx, query, content, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to update deliverable content",
			slog.String("error", err.Error()),
			slog.String("deliverable_id", id.String()))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrDeliverableNotFound
	}

	log.Info("deliverable content updated",
		slog.String("deliverable_id", id.String()),
		slog.Int("content_length", len(content)))
	return nil
}

// MergeMetadata implements store.DeliverableStore.MergeMetadata
func (s *PostgresDeliverableStore) MergeMetadata(ctx context.Context, id uuid.UUID, metadata map[string]any) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	// jsonb || overlays top-level keys and preserves the rest, which is
	// exactly the merge contract the generation block relies on.
	query := `
		UPDATE deliverables
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $1::jsonb, updated_at = $2
		WHERE id = $3
	`

	result, err := s.db.ExecContext(ctx, query, metadataJSON, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to merge deliverable metadata",
			slog.String("error", err.Error()),
			slog.String("deliverable_id", id.String()))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrDeliverableNotFound
	}

	return nil
}

// WithTx implements store.DeliverableStore.WithTx
func (s *PostgresDeliverableStore) WithTx(tx *sql.Tx) store.DeliverableStore {
	return &PostgresDeliverableStore{
		db:     tx,
		logger: s.logger,
	}
}
