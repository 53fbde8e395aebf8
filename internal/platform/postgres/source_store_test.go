package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwestin/docsmith-api/internal/domain"
	"github.com/kwestin/docsmith-api/internal/store"
)

func newSourceStoreMock(t *testing.T) (*PostgresSourceStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresSourceStore(db, nil), mock
}

func TestMarkAssetCreated_WinsRow(t *testing.T) {
	s, mock := newSourceStoreMock(t)
	sourceID := uuid.New()
	assetID := uuid.New()

	mock.ExpectExec("UPDATE batch_sources").
		WithArgs(domain.SourceStatusAssetCreated, assetID, sqlmock.AnyArg(),
			sourceID, domain.SourceStatusSubmitted, domain.SourceStatusScraped).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := s.MarkAssetCreated(context.Background(), sourceID, assetID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAssetCreated_LosesRaceToTerminalState(t *testing.T) {
	s, mock := newSourceStoreMock(t)
	sourceID := uuid.New()
	assetID := uuid.New()

	// The source already left submitted/scraped, so the guarded update
	// matches nothing.
	mock.ExpectExec("UPDATE batch_sources").
		WithArgs(domain.SourceStatusAssetCreated, assetID, sqlmock.AnyArg(),
			sourceID, domain.SourceStatusSubmitted, domain.SourceStatusScraped).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := s.MarkAssetCreated(context.Background(), sourceID, assetID)
	require.NoError(t, err)
	assert.False(t, applied, "losing the conditional write must not be an error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCategorized_OnlyFromAssetCreated(t *testing.T) {
	s, mock := newSourceStoreMock(t)
	sourceID := uuid.New()

	mock.ExpectExec("UPDATE batch_sources").
		WithArgs(domain.SourceStatusCategorized, sqlmock.AnyArg(),
			sourceID, domain.SourceStatusAssetCreated).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := s.MarkCategorized(context.Background(), sourceID)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed_SkipsTerminalStates(t *testing.T) {
	s, mock := newSourceStoreMock(t)
	sourceID := uuid.New()

	mock.ExpectExec("UPDATE batch_sources").
		WithArgs(domain.SourceStatusFailed, "fetch timed out", sqlmock.AnyArg(),
			sourceID, domain.SourceStatusCategorized, domain.SourceStatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := s.MarkFailed(context.Background(), sourceID, "fetch timed out")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSubmission_UnknownSource(t *testing.T) {
	s, mock := newSourceStoreMock(t)
	sourceID := uuid.New()

	mock.ExpectExec("UPDATE batch_sources").
		WithArgs("job-1", "run-1", sqlmock.AnyArg(), sourceID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RecordSubmission(context.Background(), sourceID, "job-1", "run-1")
	assert.ErrorIs(t, err, store.ErrSourceNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceGetByID_ScansNullableColumns(t *testing.T) {
	s, mock := newSourceStoreMock(t)
	source, err := domain.NewBatchSource(uuid.New(), uuid.New(), "https://example.com/doc")
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"id", "batch_id", "contract_id", "url", "status",
		"job_id", "run_id", "asset_id", "error_text", "created_at", "updated_at",
	}).AddRow(
		source.ID, source.BatchID, source.ContractID, source.URL, "submitted",
		nil, nil, nil, nil, source.CreatedAt, source.UpdatedAt,
	)

	mock.ExpectQuery("SELECT (.+) FROM batch_sources").
		WithArgs(source.ID).
		WillReturnRows(rows)

	got, err := s.GetByID(context.Background(), source.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.SourceStatusSubmitted, got.Status)
	assert.Empty(t, got.JobID)
	assert.Nil(t, got.AssetID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
