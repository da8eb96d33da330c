// Package store provides the canonical server-side content store: the
// fingerprint table used for change detection, the monotonic version
// ledger, hydrated content records, and the metadata surface.
//
// The store is an embedded SQLite database opened with WAL mode for
// concurrent readers. It is mutated only by the importer; request-serving
// code reads it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// timeFormat is RFC 3339 with fixed-width nanoseconds. Fingerprint and
// ledger timestamps are compared as strings in SQL, so every stored value
// must have the same length. Rapid successive imports (watch mode) can
// land within the same second; plain RFC 3339 would collapse them.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the canonical content database.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before
// first use. The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- Change detection: one fingerprint per (content type, content key)
	CREATE TABLE IF NOT EXISTS content_fingerprints (
		content_type TEXT NOT NULL,
		content_key TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (content_type, content_key)
	);

	-- Hydrated payloads, written only when the fingerprint changed
	CREATE TABLE IF NOT EXISTS content_records (
		content_type TEXT NOT NULL,
		content_key TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (content_type, content_key)
	);

	-- Monotonic version ledger: one immutable row per import that changed
	-- something
	CREATE TABLE IF NOT EXISTS sync_versions (
		version INTEGER PRIMARY KEY,
		created_at TEXT NOT NULL
	);

	-- Metadata surface: version string, last import time, sync version
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Since-timestamp scans per type
	CREATE INDEX IF NOT EXISTS idx_fingerprints_type_updated
	    ON content_fingerprints(content_type, updated_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
