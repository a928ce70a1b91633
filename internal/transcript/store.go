package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sender constants
const (
	SenderUser   = "User"
	SenderSystem = "System"
)

// Message is one entry of a thread's chat transcript
type Message struct {
	ID        int64     `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the append-only message log used to reconstruct a chat
// transcript for display. The engine never reads it back; only the HTTP
// layer does.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore creates a transcript store
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Append records one message for a thread
func (s *Store) Append(ctx context.Context, threadID, sender, text string) error {
	query := `INSERT INTO chat_messages (thread_id, sender, message, created_at) VALUES (?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, query, threadID, sender, text, time.Now().UTC()); err != nil {
		s.logger.Error("Failed to append message", zap.String("thread_id", threadID), zap.Error(err))
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// List returns a thread's messages in timestamp order
func (s *Store) List(ctx context.Context, threadID string) ([]Message, error) {
	query := `
		SELECT id, sender, message, created_at
		FROM chat_messages
		WHERE thread_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg := Message{ThreadID: threadID}
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Text, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
