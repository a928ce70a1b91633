package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/workflow-composer/internal/models"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a thread has no persisted session state
var ErrNotFound = errors.New("session not found")

// Store persists the full engine state per conversation thread. It is the
// only component with cross-request memory: the engine loads state, runs to
// the next suspend point, and saves state back on every invocation.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore creates a session store over the given database
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Get loads the session state for a thread
func (s *Store) Get(ctx context.Context, threadID string) (*models.SessionState, error) {
	query := `SELECT state FROM sessions WHERE thread_id = ?`

	var raw string
	err := s.db.QueryRowContext(ctx, query, threadID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("Failed to load session", zap.String("thread_id", threadID), zap.Error(err))
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var state models.SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}

	return &state, nil
}

// Save upserts the session state for a thread
func (s *Store) Save(ctx context.Context, state *models.SessionState) error {
	state.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}

	query := `
		INSERT INTO sessions (thread_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, state.ThreadID, string(raw), state.UpdatedAt); err != nil {
		s.logger.Error("Failed to save session", zap.String("thread_id", state.ThreadID), zap.Error(err))
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// Delete removes the session state for a thread
func (s *Store) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
