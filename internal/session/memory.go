package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and DATABASE_URL-less
// development runs. It mirrors the PostgresStore semantics, including the
// terminal-state freeze.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (s *MemoryStore) Create(_ context.Context, verificationID string, initial *InitialData) (string, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:             uuid.NewString(),
		VerificationID: verificationID,
		Status:         StatusProcessing,
		Stage:          StageQueued,
		Progress:       0,
		CreatedAt:      now,
		UpdatedAt:      now,
		InitialData:    initial,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess.ID, nil
}

func (s *MemoryStore) Update(_ context.Context, sessionID string, patch Patch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, ErrNotFound
	}
	if sess.Status.Terminal() {
		return false, nil
	}

	if patch.Stage != nil {
		sess.Stage = *patch.Stage
	}
	if patch.Progress != nil {
		sess.Progress = *patch.Progress
	}
	if patch.Status != nil {
		sess.Status = *patch.Status
	}
	if patch.Results != nil {
		sess.Results = patch.Results
	}
	if patch.Error != nil {
		sess.Error = *patch.Error
	}
	sess.UpdatedAt = time.Now().UTC()

	return true, nil
}

func (s *MemoryStore) UpdateStage(ctx context.Context, sessionID string, stage Stage, progress float64) (bool, error) {
	return s.Update(ctx, sessionID, Patch{Stage: &stage, Progress: &progress})
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, sessionID string, results *Results) (bool, error) {
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

func (s *MemoryStore) MarkFailed(ctx context.Context, sessionID string, failure FailureData) (bool, error) {
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

func (s *MemoryStore) AddWarnings(_ context.Context, sessionID string, warnings []string) error {
	if len(warnings) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.Warnings = mergeWarnings(sess.Warnings, warnings)
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}

func (s *MemoryStore) SetEmbedding(_ context.Context, sessionID string, _ []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
