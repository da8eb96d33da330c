package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IncrementVersion appends the next ledger entry and returns the new
// version. Versions are never skipped and never decremented; the paired
// timestamp is `at`, the import run's wall-clock start.
//
// Callers must invoke this at most once per import run, and only if at
// least one fingerprint commit occurred (or a full rebuild forced it).
func (db *DB) IncrementVersion(ctx context.Context, at time.Time) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM sync_versions`).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to read current version: %w", err)
	}

	next := current + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_versions (version, created_at) VALUES (?, ?)`,
		next, at.UTC().Format(timeFormat)); err != nil {
		return 0, fmt.Errorf("failed to insert ledger entry %d: %w", next, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ledger entry: %w", err)
	}

	return next, nil
}

// CurrentVersion returns the highest ledger version, or 0 if the ledger is
// empty.
func (db *DB) CurrentVersion(ctx context.Context) (int64, error) {
	var current int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM sync_versions`).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("failed to read current version: %w", err)
	}
	return current, nil
}

// VersionTimestamp looks up the ledger timestamp for a version.
//
// Returns ok=false for version 0 or an unknown version; callers translate
// that into a full-catalog response (fail open toward more data, never
// less).
func (db *DB) VersionTimestamp(ctx context.Context, version int64) (time.Time, bool, error) {
	if version <= 0 {
		return time.Time{}, false, nil
	}

	var createdAt string
	err := db.conn.QueryRowContext(ctx,
		`SELECT created_at FROM sync_versions WHERE version = ?`, version).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to look up version %d: %w", version, err)
	}

	t, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse ledger timestamp for version %d: %w", version, err)
	}
	return t, true, nil
}
