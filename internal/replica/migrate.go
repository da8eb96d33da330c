package replica

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current replica schema version. The stored version
// lives in PRAGMA user_version; opening an older store runs every step
// between the stored version and this one, in order.
const SchemaVersion = 4

// migration is one incremental schema step. Steps are cumulative: a
// client upgrading from version 1 to version 4 runs steps 2, 3, and 4.
type migration struct {
	version int
	name    string
	stmts   string
}

var migrations = []migration{
	{
		version: 1,
		name:    "initial content mirror and metadata",
		stmts: `
		CREATE TABLE IF NOT EXISTS content (
			content_type TEXT NOT NULL,
			content_key TEXT NOT NULL,
			payload TEXT NOT NULL,
			cached_at TEXT NOT NULL,
			PRIMARY KEY (content_type, content_key)
		);

		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		`,
	},
	{
		version: 2,
		name:    "recency index on content",
		stmts: `
		CREATE INDEX IF NOT EXISTS idx_content_cached_at
		    ON content(content_type, cached_at);
		`,
	},
	{
		version: 3,
		name:    "sync pass history",
		stmts: `
		CREATE TABLE IF NOT EXISTS sync_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			version INTEGER NOT NULL
		);
		`,
	},
	{
		version: 4,
		name:    "per-pass failure count",
		stmts: `
		ALTER TABLE sync_log ADD COLUMN failures INTEGER NOT NULL DEFAULT 0;
		`,
	},
}

// Migrate brings a replica connection up to SchemaVersion, applying each
// pending step exactly once, in order. A fresh store runs every step.
func Migrate(ctx context.Context, conn *sql.DB) error {
	var current int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if current == SchemaVersion {
		return nil
	}
	if current > SchemaVersion {
		return fmt.Errorf("replica schema version %d is newer than supported %d", current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		if _, err := conn.ExecContext(ctx, m.stmts); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}

		// PRAGMA does not support parameter binding.
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", m.version, err)
		}
	}

	return nil
}

// MigrateTo applies steps only up to the given version. Used by tests to
// construct old-schema stores; production opens always use Migrate.
func MigrateTo(ctx context.Context, conn *sql.DB, target int) error {
	if target > SchemaVersion {
		return fmt.Errorf("target version %d exceeds supported %d", target, SchemaVersion)
	}

	var current int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current || m.version > target {
			continue
		}
		if _, err := conn.ExecContext(ctx, m.stmts); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", m.version, err)
		}
	}

	return nil
}
