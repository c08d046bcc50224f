package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/audio-verifier/pkg/logger"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB, log *logger.Logger) *PostgresStore {
	if log == nil {
		log = logger.NewDefault("session-store")
	}
	return &PostgresStore{db: db, log: log}
}

func (s *PostgresStore) Create(ctx context.Context, verificationID string, initial *InitialData) (string, error) {
	sessionID := uuid.NewString()
	now := time.Now().UTC()

	initialJSON, err := json.Marshal(initial)
	if err != nil {
		return "", &StorageError{Op: "create", Err: err}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verification_sessions
		(id, verification_id, status, stage, progress, created_at, updated_at, initial_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sessionID, verificationID, StatusProcessing, StageQueued, 0.0, now, now, initialJSON)
	if err != nil {
		return "", &StorageError{Op: "create", Err: err}
	}

	s.log.WithSession(sessionID).Debug("created session")
	return sessionID, nil
}

func (s *PostgresStore) Update(ctx context.Context, sessionID string, patch Patch) (bool, error) {
	fields := make([]string, 0, 6)
	values := make([]any, 0, 7)
	param := 1

	appendField := func(column string, value any) {
		fields = append(fields, fmt.Sprintf("%s = $%d", column, param))
		values = append(values, value)
		param++
	}

	if patch.Stage != nil {
		appendField("stage", string(*patch.Stage))
	}
	if patch.Progress != nil {
		appendField("progress", *patch.Progress)
	}
	if patch.Status != nil {
		appendField("status", string(*patch.Status))
	}
	if patch.Results != nil {
		resultsJSON, err := json.Marshal(patch.Results)
		if err != nil {
			return false, &StorageError{Op: "update", Err: err}
		}
		appendField("results", resultsJSON)
	}
	if patch.Error != nil {
		appendField("error", *patch.Error)
	}

	if len(fields) == 0 {
		return false, nil
	}

	appendField("updated_at", time.Now().UTC())

	query := "UPDATE verification_sessions SET "
	for i, f := range fields {
		if i > 0 {
			query += ", "
		}
		query += f
	}
	// Terminal sessions are frozen: only rows still processing match.
	query += fmt.Sprintf(" WHERE id = $%d AND status = $%d", param, param+1)
	values = append(values, sessionID, StatusProcessing)

	result, err := s.db.ExecContext(ctx, query, values...)
	if err != nil {
		return false, &StorageError{Op: "update", Err: err}
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, &StorageError{Op: "update", Err: err}
	}
	if rows == 1 {
		return true, nil
	}

	// Distinguish a frozen terminal session from an unknown id.
	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM verification_sessions WHERE id = $1)`, sessionID,
	).Scan(&exists)
	if err != nil {
		return false, &StorageError{Op: "update", Err: err}
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *PostgresStore) UpdateStage(ctx context.Context, sessionID string, stage Stage, progress float64) (bool, error) {
	return s.Update(ctx, sessionID, Patch{Stage: &stage, Progress: &progress})
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, sessionID string, results *Results) (bool, error) {
	status := StatusCompleted
	stage := StageCompleted
	progress := 1.0
	return s.Update(ctx, sessionID, Patch{
		Status:   &status,
		Stage:    &stage,
		Progress: &progress,
		Results:  results,
	})
}

func (s *PostgresStore) MarkFailed(ctx context.Context, sessionID string, failure FailureData) (bool, error) {
	status := StatusFailed
	if failure.Cancelled {
		status = StatusCancelled
	}
	stage := StageFailed
	progress := 0.0
	errText := JoinFailureErrors(failure)
	return s.Update(ctx, sessionID, Patch{
		Status:   &status,
		Stage:    &stage,
		Progress: &progress,
		Error:    &errText,
	})
}

func (s *PostgresStore) AddWarnings(ctx context.Context, sessionID string, warnings []string) error {
	if len(warnings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "add_warnings", Err: err}
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT warnings FROM verification_sessions WHERE id = $1 FOR UPDATE`, sessionID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return &StorageError{Op: "add_warnings", Err: err}
	}

	var existing []string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &existing); err != nil {
			return &StorageError{Op: "add_warnings", Err: err}
		}
	}

	merged := mergeWarnings(existing, warnings)
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return &StorageError{Op: "add_warnings", Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE verification_sessions SET warnings = $1, updated_at = $2 WHERE id = $3
	`, mergedJSON, time.Now().UTC(), sessionID)
	if err != nil {
		return &StorageError{Op: "add_warnings", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "add_warnings", Err: err}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, verification_id, status, stage, progress,
		       created_at, updated_at, initial_data, results, error, warnings
		FROM verification_sessions
		WHERE id = $1
	`, sessionID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return sess, nil
}

func (s *PostgresStore) SetEmbedding(ctx context.Context, sessionID string, embedding []float64) error {
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return &StorageError{Op: "set_embedding", Err: err}
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE verification_sessions SET embedding = $1, updated_at = $2 WHERE id = $3
	`, embeddingJSON, time.Now().UTC(), sessionID)
	if err != nil {
		return &StorageError{Op: "set_embedding", Err: err}
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RowScanner abstracts *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

func scanSession(scanner RowScanner) (*Session, error) {
	var (
		sess        Session
		status      string
		stage       string
		initialRaw  []byte
		resultsRaw  []byte
		errText     sql.NullString
		warningsRaw []byte
	)

	err := scanner.Scan(
		&sess.ID, &sess.VerificationID, &status, &stage, &sess.Progress,
		&sess.CreatedAt, &sess.UpdatedAt, &initialRaw, &resultsRaw, &errText, &warningsRaw,
	)
	if err != nil {
		return nil, err
	}

	sess.Status = Status(status)
	sess.Stage = Stage(stage)
	if errText.Valid {
		sess.Error = errText.String
	}
	if len(initialRaw) > 0 {
		sess.InitialData = &InitialData{}
		if err := json.Unmarshal(initialRaw, sess.InitialData); err != nil {
			return nil, fmt.Errorf("decode initial_data: %w", err)
		}
	}
	if len(resultsRaw) > 0 {
		sess.Results = &Results{}
		if err := json.Unmarshal(resultsRaw, sess.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	if len(warningsRaw) > 0 {
		if err := json.Unmarshal(warningsRaw, &sess.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings: %w", err)
		}
	}

	return &sess, nil
}

func mergeWarnings(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, lists := range [][]string{existing, incoming} {
		for _, w := range lists {
			if w == "" {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			merged = append(merged, w)
		}
	}
	return merged
}
