package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrBusy is returned by an Engine when another connection holds the
// store in a way that prevents opening (e.g. an older-schema connection
// in another tab). The lifecycle manager maps it to the Blocked state and
// waits rather than failing the caller.
var ErrBusy = errors.New("replica store is held by another connection")

// Engine abstracts the physical storage engine beneath the replica, so
// the lifecycle state machine can be driven by a fake in tests.
type Engine interface {
	// Open opens (creating if needed) the store at path and returns a
	// connection handle. May return ErrBusy when contended.
	Open(ctx context.Context, path string) (*sql.DB, error)

	// Delete physically removes the store at path. Must be idempotent.
	Delete(ctx context.Context, path string) error
}

// sqliteEngine is the production Engine: an embedded SQLite file.
type sqliteEngine struct{}

// NewSQLiteEngine returns the production storage engine.
func NewSQLiteEngine() Engine {
	return sqliteEngine{}
}

func (sqliteEngine) Open(ctx context.Context, path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create replica directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open replica: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping replica: %w", err)
	}

	// One logical connection per process; contention shows up as busy
	// errors from other handles on the same file.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return conn, nil
}

func (sqliteEngine) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// WAL sidecar files go with the main database file.
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}
