package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps conversations in a local SQLite database file.
type SQLiteStore struct {
	db         *sql.DB
	schemaOnce sync.Once
	schemaErr  error
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema() error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS conversations (
  id TEXT PRIMARY KEY,
  worker_id TEXT NOT NULL UNIQUE,
  messages TEXT NOT NULL DEFAULT '[]',
  thinking_enabled INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
`)
	})
	return s.schemaErr
}

func (s *SQLiteStore) FindByWorker(ctx context.Context, workerID string) (*Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store is nil")
	}
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, worker_id, messages, thinking_enabled, created_at, updated_at
FROM conversations WHERE worker_id = ?`, workerID)

	var (
		rec              Record
		messages         string
		created, updated string
	)
	if err := row.Scan(&rec.ID, &rec.WorkerID, &messages, &rec.ThinkingEnabled, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(messages), &rec.Messages); err != nil {
		return nil, fmt.Errorf("decode messages of %s: %w", rec.ID, err)
	}
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	return &rec, nil
}

// Save upserts by worker. When two instances created a record for the same
// worker concurrently, the row keeps the first id and takes the latest
// messages.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store is nil")
	}
	if err := validate(rec); err != nil {
		return err
	}
	messages := rec.Messages
	if messages == nil {
		messages = []Message{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO conversations (id, worker_id, messages, thinking_enabled, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (worker_id)
DO UPDATE SET messages=excluded.messages,
  thinking_enabled=excluded.thinking_enabled,
  updated_at=excluded.updated_at`,
		rec.ID, rec.WorkerID, string(raw), rec.ThinkingEnabled,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
