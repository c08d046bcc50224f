package session

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by updates against an unknown session id.
var ErrNotFound = errors.New("session not found")

// StorageError wraps an underlying transport failure so callers can
// distinguish it from domain conditions.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("session store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Patch is a partial update over the mutable session fields. Nil fields are
// left untouched. updated_at is always refreshed.
type Patch struct {
	Stage    *Stage
	Progress *float64
	Status   *Status
	Results  *Results
	Error    *string
}

// FailureData describes a terminal failure write.
type FailureData struct {
	Errors        []string
	StageFailed   string
	FailureReason string
	Cancelled     bool
}

// Store is the durable session store. All mutations are atomic single-row
// writes; implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a fresh processing/queued session and returns its id.
	Create(ctx context.Context, verificationID string, initial *InitialData) (string, error)

	// Update applies a partial patch. Returns true iff exactly one row
	// matched. Sessions in a terminal state are frozen; updating one
	// returns false.
	Update(ctx context.Context, sessionID string, patch Patch) (bool, error)

	// UpdateStage is a convenience over Update for stage/progress writes.
	UpdateStage(ctx context.Context, sessionID string, stage Stage, progress float64) (bool, error)

	// MarkCompleted freezes the session as completed with the given results.
	MarkCompleted(ctx context.Context, sessionID string, results *Results) (bool, error)

	// MarkFailed freezes the session as failed (or cancelled).
	MarkFailed(ctx context.Context, sessionID string, failure FailureData) (bool, error)

	// AddWarnings appends unique warnings to the session's warning set.
	AddWarnings(ctx context.Context, sessionID string, warnings []string) error

	// Get returns the session, or nil when the id is unknown.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// SetEmbedding stores the semantic embedding vector for a session.
	SetEmbedding(ctx context.Context, sessionID string, embedding []float64) error
}

// JoinFailureErrors renders a failure's error list into the single error
// column value, falling back to the failed stage name.
func JoinFailureErrors(failure FailureData) string {
	if len(failure.Errors) == 0 {
		if failure.StageFailed != "" {
			return failure.StageFailed
		}
		return "unknown"
	}
	out := failure.Errors[0]
	for _, e := range failure.Errors[1:] {
		out += ", " + e
	}
	return out
}
