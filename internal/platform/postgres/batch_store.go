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

// PostgresBatchStore implements the store.BatchStore interface
// using a PostgreSQL database as the storage backend.
type PostgresBatchStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresBatchStore creates a new PostgreSQL implementation of the
// BatchStore interface. If logger is nil, a default logger will be used.
func NewPostgresBatchStore(db store.DBTX, logger *slog.Logger) *PostgresBatchStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresBatchStore{
		db:     db,
		logger: logger.With(slog.String("component", "batch_store")),
	}
}

// Ensure PostgresBatchStore implements store.BatchStore interface
var _ store.BatchStore = (*PostgresBatchStore)(nil)

// Create implements store.BatchStore.Create
func (s *PostgresBatchStore) Create(ctx context.Context, batch *domain.SourceBatch) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := batch.Validate(); err != nil {
		log.Warn("batch validation failed during create",
			slog.String("error", err.Error()),
			slog.String("batch_id", batch.ID.String()))
		return err
	}

	optionsJSON, err := json.Marshal(batch.Options)
	if err != nil {
		return fmt.Errorf("failed to encode batch options: %w", err)
	}

	query := `
		INSERT INTO source_batches
			(id, contract_id, total, completed, failed, status, options, created_by, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		batch.ID,
		batch.ContractID,
		batch.Total,
		batch.Completed,
		batch.Failed,
		batch.Status,
		optionsJSON,
		batch.CreatedBy,
		batch.CreatedAt,
		batch.CompletedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolationCode {
			return fmt.Errorf("%w: contract with ID %s not found",
				store.ErrInvalidEntity, batch.ContractID)
		}

		log.Error("failed to create batch",
			slog.String("error", err.Error()),
			slog.String("batch_id", batch.ID.String()))
		return err
	}

	log.Info("batch created",
		slog.String("batch_id", batch.ID.String()),
		slog.String("contract_id", batch.ContractID.String()),
		slog.Int("total", batch.Total),
		slog.String("status", string(batch.Status)))
	return nil
}

// GetByID implements store.BatchStore.GetByID
func (s *PostgresBatchStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.SourceBatch, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, contract_id, total, completed, failed, status, options, created_by, created_at, completed_at
		FROM source_batches
		WHERE id = $1
	`

	var batch domain.SourceBatch
	var status string
	var optionsJSON []byte
	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&batch.ID,
		&batch.ContractID,
		&batch.Total,
		&batch.Completed,
		&batch.Failed,
		&status,
		&optionsJSON,
		&batch.CreatedBy,
		&batch.CreatedAt,
		&completedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrBatchNotFound
		}
		log.Error("failed to get batch by ID",
			slog.String("error", err.Error()),
			slog.String("batch_id", id.String()))
		return nil, err
	}

	batch.Status = domain.BatchStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		batch.CompletedAt = &t
	}
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &batch.Options); err != nil {
			return nil, fmt.Errorf("failed to decode batch options: %w", err)
		}
	}

	return &batch, nil
}

// IncrementCompleted implements store.BatchStore.IncrementCompleted
func (s *PostgresBatchStore) IncrementCompleted(ctx context.Context, id uuid.UUID) (*domain.BatchCounts, error) {
	return s.increment(ctx, id, "completed")
}

// IncrementFailed implements store.BatchStore.IncrementFailed
func (s *PostgresBatchStore) IncrementFailed(ctx context.Context, id uuid.UUID) (*domain.BatchCounts, error) {
	return s.increment(ctx, id, "failed")
}

// increment performs the atomic counter update. The addition happens inside
// a single UPDATE so concurrent handlers racing on the same batch cannot
// lose updates, and RETURNING hands back the snapshot the completion
// evaluator needs.
func (s *PostgresBatchStore) increment(ctx context.Context, id uuid.UUID, column string) (*domain.BatchCounts, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	// column is one of two trusted literals, never caller input.
	query := fmt.Sprintf(`
		UPDATE source_batches
		SET %s = %s + 1
		WHERE id = $1
		RETURNING total, completed, failed, status
	`, column, column)

	var counts domain.BatchCounts
	var status string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&counts.Total,
		&counts.Completed,
		&counts.Failed,
		&status,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrBatchNotFound
		}
		log.Error("failed to increment batch counter",
			slog.String("error", err.Error()),
			slog.String("batch_id", id.String()),
			slog.String("counter", column))
		return nil, err
	}

	counts.Status = domain.BatchStatus(status)

	log.Debug("batch counter incremented",
		slog.String("batch_id", id.String()),
		slog.String("counter", column),
		slog.Int("completed", counts.Completed),
		slog.Int("failed", counts.Failed),
		slog.Int("total", counts.Total))
	return &counts, nil
}

// FinalizeStatus implements store.BatchStore.FinalizeStatus
func (s *PostgresBatchStore) FinalizeStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.BatchStatus,
	completedAt time.Time,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE source_batches
		SET status = $1, completed_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, status, completedAt, id, domain.BatchStatusInProgress)
	if err != nil {
		log.Error("failed to finalize batch status",
			slog.String("error", err.Error()),
			slog.String("batch_id", id.String()),
			slog.String("status", string(status)))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	// Zero rows means another actor already finalized the batch, which is
	// an acceptable outcome of a redundant completion check.
	if rowsAffected == 0 {
		log.Debug("batch already finalized",
			slog.String("batch_id", id.String()))
		return nil
	}

	log.Info("batch finalized",
		slog.String("batch_id", id.String()),
		slog.String("status", string(status)))
	return nil
}

// WithTx implements store.BatchStore.WithTx
func (s *PostgresBatchStore) WithTx(tx *sql.Tx) store.BatchStore {
	return &PostgresBatchStore{
		db:     tx,
		logger: s.logger,
	}
}
