package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/openlectern/lectern/internal/api"
)

// Meta keys for the read-only metadata surface.
const (
	MetaVersionString = "version_string"
	MetaLastImportAt  = "last_import_at"
	MetaSyncVersion   = "sync_version"
)

// GetMeta returns the value for a meta key, or "" if unset.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts a meta key.
func (db *DB) SetMeta(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := db.conn.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

// Meta assembles the metadata surface: human-readable version string, last
// import timestamp, and the numeric sync version. Exposed read-only to any
// client as a cheap "is anything new" probe.
func (db *DB) Meta(ctx context.Context) (*api.MetaResponse, error) {
	versionString, err := db.GetMeta(ctx, MetaVersionString)
	if err != nil {
		return nil, err
	}

	var lastImport time.Time
	if raw, err := db.GetMeta(ctx, MetaLastImportAt); err != nil {
		return nil, err
	} else if raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last import timestamp: %w", err)
		}
		lastImport = t
	}

	var syncVersion int64
	if raw, err := db.GetMeta(ctx, MetaSyncVersion); err != nil {
		return nil, err
	} else if raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse sync version: %w", err)
		}
		syncVersion = v
	}

	return &api.MetaResponse{
		VersionString: versionString,
		LastImportAt:  lastImport,
		SyncVersion:   syncVersion,
	}, nil
}
