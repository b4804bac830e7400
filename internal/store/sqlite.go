// ABOUTME: SQL implementation of the Store interface shared by the SQLite and Postgres drivers
// ABOUTME: Opens modernc.org/sqlite with WAL and foreign keys, and creates the schema on startup

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLStore implements the Store interface over database/sql
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Writers wait instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Pragmas are per-connection; a single connection keeps them in force
	// and serializes writers so assignment compare-and-set stays exact.
	db.SetMaxOpenConns(1)

	s := &SQLStore{
		db:      db,
		dialect: sqliteDialect,
		logger:  logger,
	}

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLStore) init() error {
	if err := s.createSchema(); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	if err := s.runMigrations(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema() error {
	d := s.dialect
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS users (
			id %[1]s,
			username TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS expert_profiles (
			id %[1]s,
			user_id BIGINT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
			bio TEXT NOT NULL DEFAULT '',
			knowledge_base_links TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id %[1]s,
			title TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'waiting',
			initiator_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			assigned_expert_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
			summary TEXT,
			summary_updated_at TEXT,
			last_message_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id %[1]s,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			sender_role TEXT NOT NULL,
			content TEXT NOT NULL,
			is_read %[2]s,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS expert_assignments (
			id %[1]s,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			expert_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			status TEXT NOT NULL DEFAULT 'active',
			assigned_at TEXT NOT NULL,
			resolved_at TEXT
		);
	`, d.idColumn, d.boolColumn)

	for _, stmt := range splitStatements(schema) {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// runMigrations applies idempotent index migrations for existing databases.
func (s *SQLStore) runMigrations() error {
	migrations := []struct {
		name  string
		apply string
	}{
		{"idx_conversations_initiator", `CREATE INDEX IF NOT EXISTS idx_conversations_initiator ON conversations(initiator_id, updated_at)`},
		{"idx_conversations_expert", `CREATE INDEX IF NOT EXISTS idx_conversations_expert ON conversations(assigned_expert_id, status)`},
		{"idx_conversations_status", `CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status, created_at)`},
		{"idx_messages_conversation", `CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`},
		{"idx_assignments_expert", `CREATE INDEX IF NOT EXISTS idx_assignments_expert ON expert_assignments(expert_id, assigned_at)`},
		{"idx_assignments_conversation", `CREATE INDEX IF NOT EXISTS idx_assignments_conversation ON expert_assignments(conversation_id, status)`},
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("applying %s: %w", m.name, err)
		}
	}
	return nil
}

func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Ping checks that the database is reachable
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	s.logger.Info("closing store", "driver", s.dialect.name)
	return s.db.Close()
}

// q rewrites a query written with ? placeholders for the active dialect.
func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

// withTx runs fn in a transaction, committing on success.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// insertReturningID executes an INSERT ... RETURNING id statement.
func (s *SQLStore) insertReturningID(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	var id int64
	row := tx.QueryRowContext(ctx, s.q(query+" RETURNING id"), args...)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// isConstraintViolation checks if the error is a UNIQUE constraint violation in either driver
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// sinceClause appends a strict lower bound on column to where when since is set.
func sinceClause(where, column string, since *time.Time, args ...any) (string, []any) {
	if since == nil {
		return where, args
	}
	return where + " AND " + column + " > ?", append(args, formatTime(*since))
}
