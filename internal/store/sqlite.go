// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens local files or remote libSQL databases and manages schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps :memory: databases alive across queries
	// and serializes writers on local files.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s, err := initialize(db, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// NewRemoteStore opens a libSQL database (libsql://, http:// or https://).
// authToken is appended to libsql:// URLs that don't already carry one.
func NewRemoteStore(rawURL, authToken string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dsn, err := buildDSN(rawURL, authToken)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening libsql database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging libsql database: %w", err)
	}

	s, err := initialize(db, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("libSQL store initialized", "host", hostOf(dsn))
	return s, nil
}

// IsRemoteURL reports whether a database location should be opened with libSQL
func IsRemoteURL(location string) bool {
	return strings.HasPrefix(location, "libsql://") ||
		strings.HasPrefix(location, "http://") ||
		strings.HasPrefix(location, "https://")
}

func initialize(db *sql.DB, logger *slog.Logger) (*SQLiteStore, error) {
	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func buildDSN(rawURL, authToken string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("empty database url")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing database url: %w", err)
	}

	if parsed.Scheme == "libsql" {
		query := parsed.Query()
		if query.Get("authToken") == "" && strings.TrimSpace(authToken) != "" {
			query.Set("authToken", strings.TrimSpace(authToken))
			parsed.RawQuery = query.Encode()
		}
	}

	return parsed.String(), nil
}

func hostOf(dsn string) string {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS rooms (
			owner_id      TEXT NOT NULL,
			room_id       INTEGER NOT NULL,
			title         TEXT NOT NULL,
			prompt        TEXT NOT NULL DEFAULT '',
			using_context INTEGER NOT NULL DEFAULT 1,
			status        TEXT NOT NULL DEFAULT 'active',
			created_at    TEXT NOT NULL,

			PRIMARY KEY (owner_id, room_id),
			CHECK (status IN ('active', 'deleted'))
		);

		CREATE INDEX IF NOT EXISTS idx_rooms_owner_status ON rooms(owner_id, status);

		CREATE TABLE IF NOT EXISTS messages (
			owner_id                TEXT NOT NULL,
			room_id                 INTEGER NOT NULL,
			message_id              INTEGER NOT NULL,
			prompt                  TEXT NOT NULL,
			response                TEXT NOT NULL DEFAULT '',
			status                  TEXT NOT NULL DEFAULT 'active',
			parent_message_id       TEXT,
			backend_message_id      TEXT,
			backend_conversation_id TEXT,
			prompt_tokens           INTEGER,
			completion_tokens       INTEGER,
			total_tokens            INTEGER,
			estimated               INTEGER,
			options_json            TEXT NOT NULL DEFAULT '{}',
			alternatives_json       TEXT NOT NULL DEFAULT '[]',
			created_at              TEXT NOT NULL,

			PRIMARY KEY (owner_id, room_id, message_id),
			CHECK (status IN ('active', 'prompt_deleted', 'response_deleted', 'both_deleted'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_backend_id
			ON messages(owner_id, room_id, backend_message_id);

		CREATE TABLE IF NOT EXISTS credentials (
			id          TEXT PRIMARY KEY,
			secret      TEXT NOT NULL,
			model_scope TEXT NOT NULL DEFAULT '[]',
			role_scope  TEXT NOT NULL DEFAULT '[]',
			status      TEXT NOT NULL DEFAULT 'enabled',
			note        TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			CHECK (status IN ('enabled', 'disabled'))
		);

		CREATE TABLE IF NOT EXISTS usage_records (
			id                 TEXT PRIMARY KEY,
			user_id            TEXT NOT NULL,
			room_id            INTEGER NOT NULL,
			message_id         INTEGER NOT NULL,
			backend_message_id TEXT NOT NULL DEFAULT '',
			prompt_tokens      INTEGER NOT NULL DEFAULT 0,
			completion_tokens  INTEGER NOT NULL DEFAULT 0,
			total_tokens       INTEGER NOT NULL DEFAULT 0,
			estimated          INTEGER NOT NULL DEFAULT 0,
			timestamp          INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_user_timestamp ON usage_records(user_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "credentials",
			column: "base_url",
			apply:  `ALTER TABLE credentials ADD COLUMN base_url TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "usage_records",
			column: "model",
			apply:  `ALTER TABLE usage_records ADD COLUMN model TEXT NOT NULL DEFAULT ''`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := fmt.Sprintf(`SELECT 1 FROM pragma_table_info('%s') WHERE name = ?`, m.table)
		err := s.db.QueryRow(check, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping checks that the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
