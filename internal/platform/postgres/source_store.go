package postgres

import (
	"context"
	"database/sql"
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

// PostgresSourceStore implements the store.SourceStore interface
// using a PostgreSQL database as the storage backend.
type PostgresSourceStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSourceStore creates a new PostgreSQL implementation of the
// SourceStore interface. If logger is nil, a default logger will be used.
func NewPostgresSourceStore(db store.DBTX, logger *slog.Logger) *PostgresSourceStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresSourceStore{
		db:     db,
		logger: logger.With(slog.String("component", "source_store")),
	}
}

// Ensure PostgresSourceStore implements store.SourceStore interface
var _ store.SourceStore = (*PostgresSourceStore)(nil)

// Create implements store.SourceStore.Create
func (s *PostgresSourceStore) Create(ctx context.Context, source *domain.BatchSource) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := source.Validate(); err != nil {
		log.Warn("source validation failed during create",
			slog.String("error", err.Error()),
			slog.String("source_id", source.ID.String()))
		return err
	}

	query := `
		INSERT INTO batch_sources
			(id, batch_id, contract_id, url, status, job_id, run_id, asset_id, error_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		source.ID,
		source.BatchID,
		source.ContractID,
		source.URL,
		source.Status,
		source.JobID,
		source.RunID,
		source.AssetID,
		source.ErrorText,
		source.CreatedAt,
		source.UpdatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolationCode {
			return fmt.Errorf("%w: batch with ID %s not found",
				store.ErrInvalidEntity, source.BatchID)
		}

		log.Error("failed to create source",
			slog.String("error", err.Error()),
			slog.String("source_id", source.ID.String()))
		return err
	}

	return nil
}

// GetByID implements store.SourceStore.GetByID
func (s *PostgresSourceStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.BatchSource, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, batch_id, contract_id, url, status, job_id, run_id, asset_id, error_text, created_at, updated_at
		FROM batch_sources
		WHERE id = $1
	`

	source, err := scanSource(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSourceNotFound
		}
		log.Error("failed to get source by ID",
			slog.String("error", err.Error()),
			slog.String("source_id", id.String()))
		return nil, err
	}

	return source, nil
}

// ListByBatch implements store.SourceStore.ListByBatch
func (s *PostgresSourceStore) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*domain.BatchSource, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, batch_id, contract_id, url, status, job_id, run_id, asset_id, error_text, created_at, updated_at
		FROM batch_sources
		WHERE batch_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, batchID)
	if err != nil {
		log.Error("failed to list sources by batch",
			slog.String("error", err.Error()),
			slog.String("batch_id", batchID.String()))
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	sources := []*domain.BatchSource{}
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sources, nil
}

// RecordSubmission implements store.SourceStore.RecordSubmission
func (s *PostgresSourceStore) RecordSubmission(ctx context.Context, id uuid.UUID, jobID, runID string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE batch_sources
		SET job_id = $1, run_id = $2, updated_at = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query, jobID, runID, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to record submission",
			slog.String("error", err.Error()),
			slog.String("source_id", id.String()))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrSourceNotFound
	}

	return nil
}

// MarkScraped implements store.SourceStore.MarkScraped
func (s *PostgresSourceStore) MarkScraped(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE batch_sources
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	_, err := s.db.ExecContext(
		ctx, query,
		domain.SourceStatusScraped, time.Now().UTC(),
		id, domain.SourceStatusSubmitted,
	)
	return err
}

// MarkAssetCreated implements store.SourceStore.MarkAssetCreated
func (s *PostgresSourceStore) MarkAssetCreated(ctx context.Context, id, assetID uuid.UUID) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE batch_sources
		SET status = $1, asset_id = $2, updated_at = $3
		WHERE id = $4 AND status IN ($5, $6)
	`

	result, err := s.db.ExecContext(
		ctx, query,
		domain.SourceStatusAssetCreated, assetID, time.Now().UTC(),
		id, domain.SourceStatusSubmitted, domain.SourceStatusScraped,
	)
	if err != nil {
		log.Error("failed to mark source asset_created",
			slog.String("error", err.Error()),
			slog.String("source_id", id.String()))
		return false, err
	}

	return oneRowApplied(result)
}

// MarkCategorized implements store.SourceStore.MarkCategorized
func (s *PostgresSourceStore) MarkCategorized(ctx context.Context, id uuid.UUID) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE batch_sources
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := s.db.ExecContext(
		ctx, query,
		domain.SourceStatusCategorized, time.Now().UTC(),
		id, domain.SourceStatusAssetCreated,
	)
	if err != nil {
		log.Error("failed to mark source categorized",
			slog.String("error", err.Error()),
			slog.String("source_id", id.String()))
		return false, err
	}

	return oneRowApplied(result)
}

// MarkFailed implements store.SourceStore.MarkFailed
func (s *PostgresSourceStore) MarkFailed(ctx context.Context, id uuid.UUID, errorText string) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE batch_sources
		SET status = $1, error_text = $2, updated_at = $3
		WHERE id = $4 AND status NOT IN ($5, $6)
	`

	result, err := s.db.ExecContext(
		ctx, query,
		domain.SourceStatusFailed, errorText, time.Now().UTC(),
		id, domain.SourceStatusCategorized, domain.SourceStatusFailed,
	)
	if err != nil {
		log.Error("failed to mark source failed",
			slog.String("error", err.Error()),
			slog.String("source_id", id.String()))
		return false, err
	}

	return oneRowApplied(result)
}

// WithTx implements store.SourceStore.WithTx
func (s *PostgresSourceStore) WithTx(tx *sql.Tx) store.SourceStore {
	return &PostgresSourceStore{
		db:     tx,
		logger: s.logger,
	}
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*domain.BatchSource, error) {
	var source domain.BatchSource
	var status string
	var jobID, runID, errorText sql.NullString
	var assetID uuid.NullUUID

	err := row.Scan(
		&source.ID,
		&source.BatchID,
		&source.ContractID,
		&source.URL,
		&status,
		&jobID,
		&runID,
		&assetID,
		&errorText,
		&source.CreatedAt,
		&source.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	source.Status = domain.SourceStatus(status)
	source.JobID = jobID.String
	source.RunID = runID.String
	source.ErrorText = errorText.String
	if assetID.Valid {
		id := assetID.UUID
		source.AssetID = &id
	}

	return &source, nil
}

// oneRowApplied reports whether a conditional update won the row.
func oneRowApplied(result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}
