package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// HasChanged compares newFingerprint against the stored fingerprint for
// (contentType, contentKey). An absent row counts as changed.
func (db *DB) HasChanged(ctx context.Context, contentType, contentKey, newFingerprint string) (bool, error) {
	var stored string
	err := db.conn.QueryRowContext(ctx,
		`SELECT fingerprint FROM content_fingerprints WHERE content_type = ? AND content_key = ?`,
		contentType, contentKey).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up fingerprint for %s/%s: %w", contentType, contentKey, err)
	}
	return stored != newFingerprint, nil
}

// CommitFingerprint upserts the fingerprint for (contentType, contentKey)
// and stamps updated_at. The importer passes its run start time as `at` so
// that every record changed by one run shares the ledger entry's timestamp.
func (db *DB) CommitFingerprint(ctx context.Context, contentType, contentKey, fingerprint string, at time.Time) error {
	query := `
	INSERT INTO content_fingerprints (content_type, content_key, fingerprint, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(content_type, content_key) DO UPDATE SET
		fingerprint = excluded.fingerprint,
		updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query,
		contentType, contentKey, fingerprint, at.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to commit fingerprint for %s/%s: %w", contentType, contentKey, err)
	}
	return nil
}

// DeleteFingerprint removes the fingerprint row for a content item.
// Returns nil if the row doesn't exist (idempotent).
func (db *DB) DeleteFingerprint(ctx context.Context, contentType, contentKey string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM content_fingerprints WHERE content_type = ? AND content_key = ?`,
		contentType, contentKey)
	if err != nil {
		return fmt.Errorf("failed to delete fingerprint for %s/%s: %w", contentType, contentKey, err)
	}
	return nil
}

// KeysForType returns every known content key for a type, sorted.
func (db *DB) KeysForType(ctx context.Context, contentType string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT content_key FROM content_fingerprints WHERE content_type = ? ORDER BY content_key`,
		contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys for %s: %w", contentType, err)
	}
	defer rows.Close()

	return scanKeys(rows)
}

// KeysChangedSince returns the keys of a type whose updated_at is strictly
// after the given timestamp, sorted.
func (db *DB) KeysChangedSince(ctx context.Context, contentType string, since time.Time) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT content_key FROM content_fingerprints
		 WHERE content_type = ? AND updated_at > ?
		 ORDER BY content_key`,
		contentType, since.UTC().Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query changed keys for %s: %w", contentType, err)
	}
	defer rows.Close()

	return scanKeys(rows)
}

// scanKeys collects a single-column key result set.
func scanKeys(rows *sql.Rows) ([]string, error) {
	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}
	return keys, nil
}
