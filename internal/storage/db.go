package storage

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// DB is the embedded relational store backing every persistent component.
// SQLite in WAL mode: one writer at a time, concurrent readers.
type DB struct {
	db      *sql.DB
	dataDir string
}

// Open creates (if needed) and opens the coordinator database under
// dataDir. Layout: <dataDir>/data/coordinator.db with a sibling logs/
// directory, both created on first use.
func Open(dataDir string) (*DB, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".coordinator")
	}

	for _, dir := range []string{filepath.Join(dataDir, "data"), filepath.Join(dataDir, "logs")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	path := filepath.Join(dataDir, "data", "coordinator.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open coordinator db: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &DB{db: db, dataDir: dataDir}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate coordinator db: %w", err)
	}

	return s, nil
}

// migrate applies the embedded schema and any pending version bumps.
// Safe to call repeatedly.
func (s *DB) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	return nil
}

// Close closes the underlying connection pool.
func (s *DB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DataDir returns the root data directory.
func (s *DB) DataDir() string {
	return s.dataDir
}

// BaselinesPath returns the path of the JSON baselines file.
func (s *DB) BaselinesPath() string {
	return filepath.Join(s.dataDir, "data", "baselines.json")
}

// Conn exposes the raw handle for repository packages.
func (s *DB) Conn() *sql.DB {
	return s.db
}

// WithTx executes fn inside a transaction, rolling back on error.
func (s *DB) WithTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Helpers shared by the repository packages.

// NullString converts an empty string to sql.NullString.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NullTime converts a nil time pointer to sql.NullString in SQLite's
// datetime format.
func NullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(TimeFormat), Valid: true}
}

// TimeFormat is the canonical timestamp layout stored in the database.
const TimeFormat = "2006-01-02 15:04:05"

// ParseTime parses a stored timestamp, returning nil on empty input.
func ParseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(TimeFormat, s.String)
	if err != nil {
		// Fall back to RFC3339 for rows written by older builds.
		t, err = time.Parse(time.RFC3339, s.String)
		if err != nil {
			return nil
		}
	}
	t = t.UTC()
	return &t
}

// BoolToInt converts a bool to the 0/1 convention used in SQLite columns.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
