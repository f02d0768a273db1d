package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the database connections. WAL mode allows concurrent reads
// against a single writer, so writes go through a one-connection pool and
// reads through a wider one.
type SQLite struct {
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	Logger  *zap.SugaredLogger
}

// NewSQLite opens (creating if needed) the database at path and runs
// migrations.
func NewSQLite(path string, logger *zap.SugaredLogger) (*SQLite, error) {
	if logger == nil {
		panic("logger is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	writeDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetConnMaxLifetime(time.Hour)

	readDB, err := sql.Open("sqlite", path)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("failed to open read connection: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetConnMaxLifetime(time.Hour)

	s := &SQLite{WriteDB: writeDB, ReadDB: readDB, Path: path, Logger: logger}

	for _, db := range []*sql.DB{writeDB, readDB} {
		if err := configureConnection(db); err != nil {
			s.Close()
			return nil, err
		}
	}

	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Infow("SQLite storage ready", "path", path)
	return s, nil
}

// configureConnection enables WAL mode, foreign keys and a busy timeout.
// SQLite disables foreign keys by default; they must be enabled per
// connection.
func configureConnection(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// migrate creates the schema if it does not exist
func (s *SQLite) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS rules (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			enabled          INTEGER NOT NULL DEFAULT 0,
			priority         INTEGER NOT NULL DEFAULT 0,
			condition_logic  TEXT NOT NULL,
			conditions       TEXT NOT NULL,
			action           TEXT NOT NULL,
			created_by       TEXT NOT NULL DEFAULT '',
			last_modified_by TEXT NOT NULL DEFAULT '',
			hit_count        INTEGER NOT NULL DEFAULT 0,
			last_hit         TIMESTAMP,
			created_at       TIMESTAMP NOT NULL,
			updated_at       TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_enabled_priority ON rules(enabled, priority DESC, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id                 TEXT PRIMARY KEY,
			title              TEXT NOT NULL,
			description        TEXT NOT NULL DEFAULT '',
			severity           TEXT NOT NULL,
			status             TEXT NOT NULL,
			type               TEXT NOT NULL DEFAULT 'other',
			affected_resources TEXT NOT NULL DEFAULT '[]',
			source_ips         TEXT NOT NULL DEFAULT '[]',
			bot_signatures     TEXT NOT NULL DEFAULT '[]',
			metrics            TEXT NOT NULL DEFAULT '{}',
			actions            TEXT NOT NULL DEFAULT '[]',
			timeline           TEXT NOT NULL DEFAULT '[]',
			resolution         TEXT,
			metadata           TEXT NOT NULL DEFAULT '{}',
			created_at         TIMESTAMP NOT NULL,
			updated_at         TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_created_at ON incidents(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS captcha_config (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			config     TEXT NOT NULL,
			stats      TEXT NOT NULL DEFAULT '{}',
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.WriteDB.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes both connection pools
func (s *SQLite) Close() error {
	var firstErr error
	if s.WriteDB != nil {
		if err := s.WriteDB.Close(); err != nil {
			firstErr = err
		}
	}
	if s.ReadDB != nil {
		if err := s.ReadDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
