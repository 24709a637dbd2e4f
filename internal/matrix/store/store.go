package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
	_ "modernc.org/sqlite"
)

// Store persists the transport's sync position and filter id in SQLite, so a
// restart resumes from the last batch instead of replaying history. It
// implements mautrix.SyncStore; per that contract storage failures are logged,
// not returned.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (and if needed creates) the sync-state database at dbPath.
func Open(dbPath string, logger zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_state (
			user_id TEXT PRIMARY KEY,
			filter_id TEXT NOT NULL DEFAULT '',
			next_batch TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveFilterID records the sync filter registered for a user.
func (s *Store) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (user_id, filter_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			filter_id = excluded.filter_id,
			updated_at = excluded.updated_at
	`, userID, filterID, time.Now().Unix())
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to save filter id")
	}
	return nil
}

// LoadFilterID returns the stored filter id, or empty when none is stored.
func (s *Store) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID, `SELECT filter_id FROM sync_state WHERE user_id = ?`), nil
}

// SaveNextBatch records the sync token reached for a user.
func (s *Store) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatch string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (user_id, next_batch, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			next_batch = excluded.next_batch,
			updated_at = excluded.updated_at
	`, userID, nextBatch, time.Now().Unix())
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to save next batch")
	}
	return nil
}

// LoadNextBatch returns the stored sync token, or empty for a fresh session.
func (s *Store) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID, `SELECT next_batch FROM sync_state WHERE user_id = ?`), nil
}

func (s *Store) load(ctx context.Context, userID id.UserID, query string) string {
	var value string
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&value)
	if err != nil && err != sql.ErrNoRows {
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to query sync state")
	}
	return value
}
