package specstore

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

// ErrNotFound is returned when a thread has no stored versions, or when a
// requested version does not exist
var ErrNotFound = errors.New("specification version not found")

// Store is the append-only, versioned specification store. Versions are
// assigned per thread, monotonically increasing from 1, and a stored
// document is never updated in place. The only deletion path is
// rollback-truncate.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore creates a versioned specification store
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Append stores the document as the thread's next version and returns the
// assigned version number. The max-version read and the insert run in one
// transaction so concurrent appends for different threads cannot race a
// version number.
func (s *Store) Append(ctx context.Context, threadID string, doc models.Document) (int, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to encode document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM spec_versions WHERE thread_id = ?`,
		threadID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to assign version: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO spec_versions (thread_id, version, document, created_at) VALUES (?, ?, ?, ?)`,
		threadID, version, string(raw), time.Now().UTC(),
	)
	if err != nil {
		s.logger.Error("Failed to append version",
			zap.String("thread_id", threadID),
			zap.Int("version", version),
			zap.Error(err))
		return 0, fmt.Errorf("failed to append version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit version: %w", err)
	}

	s.logger.Info("Specification version appended",
		zap.String("thread_id", threadID),
		zap.Int("version", version))
	return version, nil
}

// Latest returns the thread's current (highest-version) record
func (s *Store) Latest(ctx context.Context, threadID string) (*models.VersionRecord, error) {
	query := `
		SELECT version, document, created_at
		FROM spec_versions
		WHERE thread_id = ?
		ORDER BY version DESC
		LIMIT 1
	`
	return s.scanRecord(s.db.QueryRowContext(ctx, query, threadID), threadID)
}

// GetVersion returns one specific version record
func (s *Store) GetVersion(ctx context.Context, threadID string, version int) (*models.VersionRecord, error) {
	query := `
		SELECT version, document, created_at
		FROM spec_versions
		WHERE thread_id = ? AND version = ?
	`
	return s.scanRecord(s.db.QueryRowContext(ctx, query, threadID, version), threadID)
}

// ListVersions returns the thread's version numbers in ascending order
func (s *Store) ListVersions(ctx context.Context, threadID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version FROM spec_versions WHERE thread_id = ? ORDER BY version ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}

	return versions, rows.Err()
}

// Exists reports whether the thread has any stored specification. The
// engine routes between the generation and modification pipelines on this.
func (s *Store) Exists(ctx context.Context, threadID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM spec_versions WHERE thread_id = ?`,
		threadID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check thread: %w", err)
	}
	return count > 0, nil
}

// Rollback makes target the thread's current version by deleting every
// record with a higher version. History is linear: rollback is destructive,
// not branching.
func (s *Store) Rollback(ctx context.Context, threadID string, target int) (*models.VersionRecord, error) {
	record, err := s.GetVersion(ctx, threadID, target)
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM spec_versions WHERE thread_id = ? AND version > ?`,
		threadID, target,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to truncate versions: %w", err)
	}

	deleted, _ := result.RowsAffected()
	s.logger.Info("Rolled back specification",
		zap.String("thread_id", threadID),
		zap.Int("target_version", target),
		zap.Int64("versions_deleted", deleted))

	return record, nil
}

func (s *Store) scanRecord(row *sql.Row, threadID string) (*models.VersionRecord, error) {
	var (
		version   int
		raw       string
		createdAt time.Time
	)
	err := row.Scan(&version, &raw, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load version: %w", err)
	}

	var doc models.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	return &models.VersionRecord{
		ThreadID:  threadID,
		Version:   version,
		Document:  doc,
		Timestamp: createdAt,
	}, nil
}
