package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/audio-verifier/pkg/logger"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, logger.NewDefault("test")), mock
}

func TestPostgresCreate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO verification_sessions").
		WithArgs(sqlmock.AnyArg(), "verif-1", StatusProcessing, StageQueued, 0.0,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := store.Create(context.Background(), "verif-1", &InitialData{Title: "t"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateStorageError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO verification_sessions").
		WillReturnError(assert.AnError)

	_, err := store.Create(context.Background(), "verif-1", nil)
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "create", storageErr.Op)
}

func TestPostgresUpdateStage(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE verification_sessions SET stage = (.+), progress = (.+), updated_at = (.+) WHERE id = (.+) AND status = (.+)").
		WithArgs("quality", 0.15, sqlmock.AnyArg(), "sess-1", StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.UpdateStage(context.Background(), "sess-1", StageQuality, 0.15)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateUnknownIDReturnsNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE verification_sessions SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := store.UpdateStage(context.Background(), "missing", StageQuality, 0.15)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresUpdateTerminalSessionIsNoOp(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE verification_sessions SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.UpdateStage(context.Background(), "sess-1", StageQuality, 0.15)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresMarkCompleted(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE verification_sessions SET stage = (.+), progress = (.+), status = (.+), results = (.+), updated_at = (.+) WHERE id = (.+) AND status = (.+)").
		WithArgs("completed", 1.0, "completed", sqlmock.AnyArg(), sqlmock.AnyArg(), "sess-1", StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.MarkCompleted(context.Background(), "sess-1", &Results{Approved: true})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkFailedCancelled(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE verification_sessions SET stage = (.+), progress = (.+), status = (.+), error = (.+), updated_at = (.+) WHERE id = (.+) AND status = (.+)").
		WithArgs("failed", 0.0, "cancelled", "Verification cancelled by user", sqlmock.AnyArg(), "sess-1", StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.MarkFailed(context.Background(), "sess-1", FailureData{
		Errors:    []string{"Verification cancelled by user"},
		Cancelled: true,
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgresGet(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	initial, _ := json.Marshal(&InitialData{Title: "t", PlaintextSizeBytes: 2048})
	warnings, _ := json.Marshal([]string{"mono audio"})

	rows := sqlmock.NewRows([]string{
		"id", "verification_id", "status", "stage", "progress",
		"created_at", "updated_at", "initial_data", "results", "error", "warnings",
	}).AddRow("sess-1", "verif-1", "processing", "quality", 0.15, now, now, initial, nil, nil, warnings)

	mock.ExpectQuery("SELECT id, verification_id, status, stage, progress").
		WithArgs("sess-1").
		WillReturnRows(rows)

	sess, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, StatusProcessing, sess.Status)
	assert.Equal(t, StageQuality, sess.Stage)
	assert.Equal(t, "t", sess.InitialData.Title)
	assert.Equal(t, []string{"mono audio"}, sess.Warnings)
	assert.Nil(t, sess.Results)
}

func TestPostgresGetUnknownIDIsNil(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, verification_id, status, stage, progress").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "verification_id", "status", "stage", "progress",
			"created_at", "updated_at", "initial_data", "results", "error", "warnings",
		}))

	sess, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestPostgresAddWarningsMergesSet(t *testing.T) {
	store, mock := newMockStore(t)

	existing, _ := json.Marshal([]string{"low bitrate"})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT warnings FROM verification_sessions").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"warnings"}).AddRow(existing))
	merged, _ := json.Marshal([]string{"low bitrate", "mono audio"})
	mock.ExpectExec("UPDATE verification_sessions SET warnings").
		WithArgs(merged, sqlmock.AnyArg(), "sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.AddWarnings(context.Background(), "sess-1", []string{"mono audio", "low bitrate"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
