// ABOUTME: SQLite ledger using modernc.org/sqlite with automatic schema creation.
// ABOUTME: Opens the database in WAL mode and applies idempotent migrations.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// tsLayout is fixed width so timestamps sort correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is the ledger backed by a SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the ledger at path. Parent directories
// are created if needed. ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tool_invocations (
			invocation_id TEXT PRIMARY KEY,
			session_id    TEXT NOT NULL,
			tool          TEXT NOT NULL,
			ok            INTEGER NOT NULL,
			error         TEXT,
			duration_ms   INTEGER NOT NULL,
			ts            TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_invocations_ts ON tool_invocations(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_invocations_tool ON tool_invocations(tool);
		CREATE INDEX IF NOT EXISTS idx_invocations_session ON tool_invocations(session_id);

		CREATE TABLE IF NOT EXISTS route_decisions (
			decision_id TEXT PRIMARY KEY,
			query       TEXT NOT NULL,
			candidates  INTEGER NOT NULL,
			tool        TEXT NOT NULL,
			reason_code TEXT,
			reasoning   TEXT,
			duration_ms INTEGER NOT NULL,
			ts          TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_decisions_ts ON route_decisions(ts DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('route_decisions') WHERE name = 'provider'`,
			apply:  `ALTER TABLE route_decisions ADD COLUMN provider TEXT NOT NULL DEFAULT ''`,
			column: "route_decisions.provider",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking column %s: %w", m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding column %s: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}
