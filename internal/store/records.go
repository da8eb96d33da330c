package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by single-record lookups for unknown keys.
var ErrNotFound = errors.New("record not found")

// PutRecord upserts the hydrated payload for (contentType, contentKey).
// Records are overwritten wholesale, never partially patched.
func (db *DB) PutRecord(ctx context.Context, contentType, contentKey string, payload json.RawMessage, at time.Time) error {
	query := `
	INSERT INTO content_records (content_type, content_key, payload, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(content_type, content_key) DO UPDATE SET
		payload = excluded.payload,
		updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query,
		contentType, contentKey, string(payload), at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to put record %s/%s: %w", contentType, contentKey, err)
	}
	return nil
}

// GetRecord returns the payload for a single content item.
// Returns ErrNotFound for unknown keys.
func (db *DB) GetRecord(ctx context.Context, contentType, contentKey string) (json.RawMessage, error) {
	var payload string
	err := db.conn.QueryRowContext(ctx,
		`SELECT payload FROM content_records WHERE content_type = ? AND content_key = ?`,
		contentType, contentKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", contentType, contentKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s/%s: %w", contentType, contentKey, err)
	}
	return json.RawMessage(payload), nil
}

// GetRecords returns payloads for the given keys of one content type.
// Missing keys are simply omitted from the result rather than erroring, so
// a partially stale key list degrades gracefully.
func (db *DB) GetRecords(ctx context.Context, contentType string, keys []string) (map[string]json.RawMessage, error) {
	result := make(map[string]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	stmt, err := db.conn.PrepareContext(ctx,
		`SELECT payload FROM content_records WHERE content_type = ? AND content_key = ?`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare record query: %w", err)
	}
	defer stmt.Close()

	for _, key := range keys {
		var payload string
		err := stmt.QueryRowContext(ctx, contentType, key).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get record %s/%s: %w", contentType, key, err)
		}
		result[key] = json.RawMessage(payload)
	}

	return result, nil
}

// DeleteRecord removes a hydrated record. Returns nil if the record
// doesn't exist (idempotent).
func (db *DB) DeleteRecord(ctx context.Context, contentType, contentKey string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM content_records WHERE content_type = ? AND content_key = ?`,
		contentType, contentKey)
	if err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", contentType, contentKey, err)
	}
	return nil
}

// RecordCount returns the number of hydrated records for a type.
func (db *DB) RecordCount(ctx context.Context, contentType string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content_records WHERE content_type = ?`, contentType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records for %s: %w", contentType, err)
	}
	return count, nil
}

// ClearContent wipes all fingerprints and records ahead of a forced full
// rebuild. The ledger and meta tables are left intact: versions are never
// reset.
func (db *DB) ClearContent(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM content_fingerprints`); err != nil {
		return fmt.Errorf("failed to clear fingerprints: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM content_records`); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit content clear: %w", err)
	}
	return nil
}
