// Package persistence provides the per-account SQLite profile store
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite"
)

const busyTimeoutMillis = 5000

// Store is one account's durable state. Open a Store per request and close
// it when done; SQLite's WAL lets a status query read while a campaign
// writes.
type Store struct {
	db     *sql.DB
	handle string
}

var unsafeHandleChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// PathFor returns the database file for an account handle inside dir.
func PathFor(dir, handle string) string {
	return filepath.Join(dir, unsafeHandleChars.ReplaceAllString(handle, "_")+".db")
}

// Open opens (creating if needed) the store for handle under dir.
func Open(ctx context.Context, dir, handle string) (*Store, error) {
	s, err := NewStore(ctx, PathFor(dir, handle))
	if err != nil {
		return nil, err
	}
	s.handle = handle
	return s, nil
}

// NewStore opens the database at dbPath.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)", dbPath, busyTimeoutMillis)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}
	return s, nil
}

// newWithDB wraps an already-open database without touching the schema.
func newWithDB(db *sql.DB, handle string) *Store {
	return &Store{db: db, handle: handle}
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Handle returns the account handle the store belongs to.
func (s *Store) Handle() string { return s.handle }

func (s *Store) initTables(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			public_identifier TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			state TEXT NOT NULL,
			full_name TEXT,
			headline TEXT,
			messaged_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		// Quota ledger: one row per quota-consuming action
		`CREATE TABLE IF NOT EXISTS actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			public_identifier TEXT,
			performed_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS limit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			reason TEXT,
			detected_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS campaign_runs (
			id TEXT PRIMARY KEY,
			campaign_name TEXT NOT NULL,
			session_key TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'in_progress',
			total INTEGER DEFAULT 0,
			processed INTEGER DEFAULT 0,
			succeeded INTEGER DEFAULT 0,
			failed INTEGER DEFAULT 0,
			stop_reason TEXT,
			error_message TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER
		)`,
	}

	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_profiles_state ON profiles(state)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_kind_time ON actions(kind, performed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_limit_events_kind_time ON limit_events(kind, detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_runs_started ON campaign_runs(started_at)`,
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Transaction executes fn within a database transaction
func (s *Store) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
