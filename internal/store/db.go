// Package store is the storage collaborator: typed upserts and filtered lists
// over the relational tables the pipeline reads and writes. It runs on SQLite
// (modernc) by default and on Postgres through pgx.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by single-row getters.
var ErrNotFound = errors.New("store: not found")

// TimeLayout is fixed-width UTC so text timestamps compare lexicographically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// #region schema

var schema = []string{
	`CREATE TABLE IF NOT EXISTS stage_artifacts (
		run_id           TEXT NOT NULL,
		stage            TEXT NOT NULL,
		trace_id         TEXT NOT NULL,
		user_id          TEXT NOT NULL DEFAULT '',
		mode             TEXT NOT NULL,
		schema_version   INTEGER NOT NULL,
		pipeline_version TEXT NOT NULL,
		created_at       TEXT NOT NULL,
		duration_ms      INTEGER NOT NULL,
		summary          TEXT NOT NULL,
		payload          TEXT NOT NULL,
		vault_ref        TEXT NOT NULL DEFAULT '',
		stats            TEXT NOT NULL DEFAULT '{}',
		expires_at       TEXT NOT NULL,
		PRIMARY KEY (run_id, stage)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stage_artifacts_expiry ON stage_artifacts(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_stage_artifacts_trace ON stage_artifacts(trace_id)`,

	`CREATE TABLE IF NOT EXISTS vault_entries (
		run_id     TEXT NOT NULL,
		stage      TEXT NOT NULL,
		ciphertext TEXT NOT NULL,
		iv         TEXT NOT NULL,
		tag        TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		PRIMARY KEY (run_id, stage)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vault_entries_expiry ON vault_entries(expires_at)`,

	`CREATE TABLE IF NOT EXISTS user_artifacts (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		type       TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'active',
		visibility TEXT NOT NULL DEFAULT 'private',
		title      TEXT NOT NULL DEFAULT '',
		body       TEXT NOT NULL,
		verse_ref  TEXT NOT NULL DEFAULT '',
		book_id    TEXT NOT NULL DEFAULT '',
		chapter    INTEGER NOT NULL DEFAULT 0,
		embedding  TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_artifacts_lookup ON user_artifacts(user_id, type, status, created_at)`,

	`CREATE TABLE IF NOT EXISTS reading_sessions (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		book_id      TEXT NOT NULL,
		book_name    TEXT NOT NULL,
		chapter      INTEGER NOT NULL,
		started_at   TEXT NOT NULL,
		duration_sec INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reading_sessions_lookup ON reading_sessions(user_id, started_at)`,

	`CREATE TABLE IF NOT EXISTS chapter_rollups (
		user_id      TEXT NOT NULL,
		book_id      TEXT NOT NULL,
		chapter      INTEGER NOT NULL,
		times_read   INTEGER NOT NULL,
		last_read_at TEXT NOT NULL,
		PRIMARY KEY (user_id, book_id, chapter)
	)`,

	`CREATE TABLE IF NOT EXISTS durable_memories (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		kind       TEXT NOT NULL,
		mem_key    TEXT NOT NULL,
		value      TEXT NOT NULL,
		strength   REAL NOT NULL,
		status     TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (user_id, kind, mem_key)
	)`,

	`CREATE TABLE IF NOT EXISTS memory_signals (
		user_id      TEXT NOT NULL,
		kind         TEXT NOT NULL,
		sig_key      TEXT NOT NULL,
		value        TEXT NOT NULL,
		count        INTEGER NOT NULL,
		score        REAL NOT NULL,
		last_seen_at TEXT NOT NULL,
		PRIMARY KEY (user_id, kind, sig_key)
	)`,
}

// #endregion schema

// #region db

// DB wraps a sqlx handle bound to one of the supported drivers.
type DB struct {
	x      *sqlx.DB
	driver string
}

// Open connects to dsn with driver "sqlite" or "pgx" and runs migrations.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	switch driver {
	case "sqlite", "pgx":
	default:
		return nil, fmt.Errorf("open db: unsupported driver %q", driver)
	}
	x, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == "sqlite" {
		// One writer; WAL lets readers proceed during the detached extraction write.
		x.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := x.ExecContext(ctx, pragma); err != nil {
				_ = x.Close()
				return nil, fmt.Errorf("pragma: %w", err)
			}
		}
	}
	if err := x.PingContext(ctx); err != nil {
		_ = x.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db := &DB{x: x, driver: driver}
	if err := db.Migrate(ctx); err != nil {
		_ = x.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates every table and index if missing.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.x.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.x.Close()
}

// Driver returns the driver name.
func (db *DB) Driver() string { return db.driver }

// #endregion db

// #region helpers

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout (or RFC3339) timestamp; the zero time on failure.
func ParseTime(s string) time.Time {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// where accumulates "?"-placeholder clauses; build rebinds for the driver.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// build expands IN (?) slices and rebinds placeholders.
func (db *DB) build(query string, args []any) (string, []any, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("expand query: %w", err)
	}
	return db.x.Rebind(q), a, nil
}

// #endregion helpers
