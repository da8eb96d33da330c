package replica

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Replica meta keys.
const (
	// MetaLocalSyncVersion is the last server version durably committed
	// into this replica. Read at sync start, written only after a pass
	// completes.
	MetaLocalSyncVersion = "local_sync_version"

	// MetaLastSyncDirty is "1" when the most recent pass advanced the
	// version despite fetch failures, meaning some keys may be hidden
	// until a forced resync.
	MetaLastSyncDirty = "last_sync_dirty"
)

// ErrNotFound is returned by content lookups for keys not in the mirror.
var ErrNotFound = errors.New("content not in replica")

// Store is the client-local mirror of server content. Every operation
// routes through the lifecycle manager, so callers transparently wait out
// deletions, opens, upgrades, and recovery.
type Store struct {
	mgr *Manager
}

// Open creates a replica store handle for the given path. No I/O happens
// until the first operation.
func Open(path string, config *ManagerConfig) *Store {
	return &Store{mgr: NewManager(path, config)}
}

// Lifecycle exposes the lifecycle manager (state inspection, deletion
// requests, engine event hooks).
func (s *Store) Lifecycle() *Manager {
	return s.mgr
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.mgr.Close()
}

// RequestDeletion durably flags the store for deletion before next open.
func (s *Store) RequestDeletion() error {
	return s.mgr.RequestDeletion()
}

// PutContent overwrites one mirrored record wholesale. Records are never
// partially patched.
func (s *Store) PutContent(ctx context.Context, contentType, contentKey string, payload json.RawMessage, cachedAt time.Time) error {
	conn, err := s.mgr.Conn(ctx)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO content (content_type, content_key, payload, cached_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(content_type, content_key) DO UPDATE SET
		payload = excluded.payload,
		cached_at = excluded.cached_at
	`
	_, err = conn.ExecContext(ctx, query,
		contentType, contentKey, string(payload), cachedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to put replica content %s/%s: %w", contentType, contentKey, err)
	}
	return nil
}

// GetContent returns one mirrored record. Returns ErrNotFound for keys
// not in the mirror.
func (s *Store) GetContent(ctx context.Context, contentType, contentKey string) (json.RawMessage, error) {
	conn, err := s.mgr.Conn(ctx)
	if err != nil {
		return nil, err
	}

	var payload string
	err = conn.QueryRowContext(ctx,
		`SELECT payload FROM content WHERE content_type = ? AND content_key = ?`,
		contentType, contentKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", contentType, contentKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get replica content %s/%s: %w", contentType, contentKey, err)
	}
	return json.RawMessage(payload), nil
}

// ContentCount returns the number of mirrored records for a type.
func (s *Store) ContentCount(ctx context.Context, contentType string) (int, error) {
	conn, err := s.mgr.Conn(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	err = conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content WHERE content_type = ?`, contentType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count replica content for %s: %w", contentType, err)
	}
	return count, nil
}

// GetMeta returns a replica meta value, or "" if unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	conn, err := s.mgr.Conn(ctx)
	if err != nil {
		return "", err
	}

	var value string
	err = conn.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get replica meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts a replica meta key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	conn, err := s.mgr.Conn(ctx)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := conn.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set replica meta %s: %w", key, err)
	}
	return nil
}

// LocalVersion returns the last synced server version, 0 for a fresh
// replica.
func (s *Store) LocalVersion(ctx context.Context) (int64, error) {
	raw, err := s.GetMeta(ctx, MetaLocalSyncVersion)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse local sync version: %w", err)
	}
	return v, nil
}

// SetLocalVersion durably records the last synced server version.
func (s *Store) SetLocalVersion(ctx context.Context, version int64) error {
	return s.SetMeta(ctx, MetaLocalSyncVersion, strconv.FormatInt(version, 10))
}

// LogSyncPass appends one row of sync history.
func (s *Store) LogSyncPass(ctx context.Context, started, finished time.Time, version int64, failures int) error {
	conn, err := s.mgr.Conn(ctx)
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx,
		`INSERT INTO sync_log (started_at, finished_at, version, failures) VALUES (?, ?, ?, ?)`,
		started.UTC().Format(time.RFC3339), finished.UTC().Format(time.RFC3339), version, failures)
	if err != nil {
		return fmt.Errorf("failed to log sync pass: %w", err)
	}
	return nil
}
