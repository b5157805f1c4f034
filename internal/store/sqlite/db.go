// Package sqlite implements the stores on an embedded SQLite file (standalone mode).
// The schema is created on open; there is no separate migration step.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nextlevelbuilder/inboxd/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
  id              TEXT PRIMARY KEY,
  name            TEXT NOT NULL DEFAULT '',
  locale          TEXT NOT NULL DEFAULT '',
  failure_message TEXT NOT NULL DEFAULT '',
  updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS channel_configs (
  id            TEXT PRIMARY KEY,
  tenant_id     TEXT NOT NULL,
  channel_type  TEXT NOT NULL,
  display_name  TEXT NOT NULL DEFAULT '',
  system_prompt TEXT NOT NULL DEFAULT '',
  allow_from    TEXT NOT NULL DEFAULT '[]',
  enabled       INTEGER NOT NULL DEFAULT 1,
  updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
  seq               INTEGER PRIMARY KEY AUTOINCREMENT,
  id                TEXT NOT NULL UNIQUE,
  external_id       TEXT UNIQUE,
  reply_to          TEXT,
  channel           TEXT NOT NULL,
  tenant_channel_id TEXT NOT NULL,
  conversation_key  TEXT NOT NULL,
  direction         TEXT NOT NULL,
  sender            TEXT NOT NULL,
  recipient         TEXT NOT NULL,
  type              TEXT NOT NULL DEFAULT 'text',
  content           TEXT NOT NULL DEFAULT '',
  created_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_key, seq);

CREATE TABLE IF NOT EXISTS pipeline_errors (
  external_id TEXT PRIMARY KEY,
  message     TEXT NOT NULL,
  detail      TEXT NOT NULL DEFAULT '',
  retry_count INTEGER NOT NULL DEFAULT 0,
  created_at  INTEGER NOT NULL,
  updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pipeline_errors_updated ON pipeline_errors (updated_at);
`

// OpenDB opens (creating if needed) the SQLite database at path and applies the schema.
func OpenDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY under concurrent pipelines.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// NewSQLiteStores creates all stores on one SQLite file (standalone mode).
func NewSQLiteStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
	}
	return store.NewStores(
		NewMessageStore(db),
		NewErrorStore(db),
		NewConfigStore(db),
		db.Close,
	), nil
}

func isUniqueViolation(err error) bool {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	code := sqErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }
