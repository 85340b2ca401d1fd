package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pitabwire/formengine/model"
)

// SQLiteDraftStore keeps drafts in a local SQLite file. It is the local
// storage used by the CLI and embedded hosts.
type SQLiteDraftStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteDraftStore opens (or creates) the database at path. Use
// ":memory:" for a throwaway store.
func NewSQLiteDraftStore(path string) (*SQLiteDraftStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create draft directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open draft database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteDraftStore{db: db, now: time.Now}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDraftStore) initialize() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS drafts (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create drafts table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteDraftStore) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database.
func (s *SQLiteDraftStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Load reads a draft. Expired rows are deleted on read.
func (s *SQLiteDraftStore) Load(ctx context.Context, key string) (model.Draft, bool, error) {
	var (
		data      string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, expires_at FROM drafts WHERE key = ?`, key,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Draft{}, false, nil
	}
	if err != nil {
		return model.Draft{}, false, fmt.Errorf("query draft %q: %w", key, err)
	}

	if expiresAt > 0 && s.now().UnixMilli() > expiresAt {
		if err := s.Clear(ctx, key); err != nil {
			return model.Draft{}, false, err
		}
		return model.Draft{}, false, nil
	}

	var d model.Draft
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return model.Draft{}, false, fmt.Errorf("unmarshal draft %q: %w", key, err)
	}
	return d, true, nil
}

// Save upserts a draft.
func (s *SQLiteDraftStore) Save(ctx context.Context, key string, draft model.Draft, ttl time.Duration) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO drafts (key, data, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		key, string(data), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("save draft %q: %w", key, err)
	}
	return nil
}

// Clear deletes a draft.
func (s *SQLiteDraftStore) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete draft %q: %w", key, err)
	}
	return nil
}
