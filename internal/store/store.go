// Package store owns all durable state: tasks, task results, and script
// templates, persisted in a single SQLite database with WAL journaling.
//
// Every method serializes on one process-wide mutex so multi-step
// read-modify-write sequences stay atomic without explicit transactions; the
// engine and HTTP handlers share a single Store value.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/taskd/internal/accounts"
)

// schemaVersion is the current schema target. Version 1 created the base
// tables; version 2 added the event_type column.
const schemaVersion = 2

const timeLayout = time.RFC3339

// Store is the durable task/result/template store.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	policy accounts.Policy
	now    func() time.Time
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string, policy accounts.Policy) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The mutex is the concurrency gate; a single connection keeps SQLite's
	// own locking out of the picture.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, policy: policy, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("store opened", "path", path)
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version < 1 {
		if err := s.createSchema(); err != nil {
			return err
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version=%d", schemaVersion)); err != nil {
			return err
		}
		version = schemaVersion
	}
	if version < 2 {
		_, err := s.db.Exec("ALTER TABLE tasks ADD COLUMN event_type TEXT NOT NULL DEFAULT 'script'")
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column name") {
			return fmt.Errorf("add event_type column: %w", err)
		}
		if _, err := s.db.Exec("PRAGMA user_version=2"); err != nil {
			return err
		}
		version = 2
	}
	if version < schemaVersion {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version=%d", schemaVersion)); err != nil {
			return err
		}
	}
	// Upgrade path from pre-template builds: the templates table is created
	// unconditionally, whatever the recorded version says.
	if err := s.createTemplatesTable(); err != nil {
		return fmt.Errorf("ensure templates table: %w", err)
	}
	return nil
}

func (s *Store) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			account TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			schedule_expression TEXT,
			condition_script TEXT,
			condition_interval INTEGER NOT NULL DEFAULT 60,
			event_type TEXT NOT NULL DEFAULT 'script',
			is_active INTEGER NOT NULL DEFAULT 1,
			pre_task_ids TEXT NOT NULL DEFAULT '[]',
			script_body TEXT NOT NULL,
			last_run_at TEXT,
			next_run_at TEXT,
			last_condition_check_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			status TEXT NOT NULL,
			trigger_reason TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			log TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_results_task ON task_results(task_id, started_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return s.createTemplatesTable()
}

func (s *Store) createTemplatesTable() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS templates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		script_body TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	return err
}

// SchemaVersion reads the stored schema version.
func (s *Store) SchemaVersion() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var version int
	err := s.db.QueryRow("PRAGMA user_version").Scan(&version)
	return version, err
}

// FormatTime renders a timestamp in the store's persisted form: RFC3339 UTC
// truncated to whole seconds. Lexicographic order equals chronological order.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

// ParseTime parses a persisted timestamp. Returns the zero time on failure.
func ParseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
