package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_credentials (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	access_token  TEXT    NOT NULL,
	refresh_token TEXT    NOT NULL,
	saved_at      INTEGER NOT NULL
)`

const sqliteUpsert = `
INSERT INTO session_credentials (id, access_token, refresh_token, saved_at)
VALUES (1, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	access_token  = excluded.access_token,
	refresh_token = excluded.refresh_token,
	saved_at      = excluded.saved_at`

// SQLiteStore keeps the record in a single-row table. Every write is one
// UPSERT statement, every clear one DELETE.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path with the pure-Go
// modernc driver and ensures the schema exists. Use ":memory:" for a
// throwaway database.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrStoreUnavailable, err)
	}
	// ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	store, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore wraps an existing handle and ensures the schema exists.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("sqlite handle required")
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("%w: create schema: %v", ErrStoreUnavailable, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads the row. No row is an empty record.
func (s *SQLiteStore) Load(ctx context.Context) (Credentials, error) {
	var c Credentials
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, saved_at FROM session_credentials WHERE id = 1`,
	).Scan(&c.AccessToken, &c.RefreshToken, &c.SavedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credentials{}, nil
		}
		return Credentials{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return c, nil
}

// Save upserts the row.
func (s *SQLiteStore) Save(ctx context.Context, c Credentials) error {
	if _, err := s.db.ExecContext(ctx, sqliteUpsert, c.AccessToken, c.RefreshToken, c.SavedAt); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Clear deletes the row.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
