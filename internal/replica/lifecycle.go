// Package replica maintains the client-local mirror of server content: a
// persistent, schema-versioned store with a lifecycle manager that owns
// opening, upgrading, wiping, and recovering it across sessions and
// concurrent holders.
package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// ConnState is the lifecycle state of the logical replica connection.
type ConnState int

const (
	// StateClosed means no connection is held.
	StateClosed ConnState = iota

	// StateOpening means an open (and possibly a schema upgrade) is in
	// progress.
	StateOpening

	// StateOpen means the cached connection handle is usable.
	StateOpen

	// StateBlocked means another holder's older-schema connection is
	// preventing this open; the manager waits rather than failing.
	StateBlocked

	// StateTerminated means the underlying storage dropped the
	// connection; the next access reopens from scratch.
	StateTerminated
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateBlocked:
		return "blocked"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ErrStorageUnavailable is surfaced when open retries and the
// delete-and-recreate recovery both fail. Callers fall back to
// network-only behavior.
var ErrStorageUnavailable = errors.New("replica storage unavailable")

// Manager defaults. Timeouts are seconds-scale so a wedged storage engine
// cannot hang the app forever.
const (
	defaultOpenTimeout   = 5 * time.Second
	defaultDeleteTimeout = 5 * time.Second
	maxOpenAttempts      = 2
	blockedRetryDelay    = 100 * time.Millisecond
)

// ManagerConfig configures a lifecycle manager.
type ManagerConfig struct {
	// Engine is the storage engine (default: embedded SQLite).
	Engine Engine

	// OpenTimeout bounds one open attempt, including time spent Blocked.
	OpenTimeout time.Duration

	// DeleteTimeout bounds a store deletion.
	DeleteTimeout time.Duration

	// Logger for lifecycle activity (default: stderr logger).
	Logger *log.Logger
}

// Manager owns the logical replica connection: exactly one per client,
// though the underlying storage may be shared with other holders.
//
// All store access goes through Conn, which transparently awaits any
// in-flight deletion, executes a pending deletion request, opens and
// migrates the store, and recovers from failures per the retry policy.
type Manager struct {
	path   string
	engine Engine
	logger *log.Logger

	openTimeout   time.Duration
	deleteTimeout time.Duration

	mu       sync.Mutex
	state    ConnState
	conn     *sql.DB
	deleting chan struct{} // non-nil while a deletion is in flight
}

// NewManager creates a lifecycle manager for the replica at path.
// No I/O happens until the first access.
func NewManager(path string, config *ManagerConfig) *Manager {
	if config == nil {
		config = &ManagerConfig{}
	}
	engine := config.Engine
	if engine == nil {
		engine = NewSQLiteEngine()
	}
	openTimeout := config.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultOpenTimeout
	}
	deleteTimeout := config.DeleteTimeout
	if deleteTimeout <= 0 {
		deleteTimeout = defaultDeleteTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[replica] ", log.LstdFlags)
	}

	return &Manager{
		path:          path,
		engine:        engine,
		logger:        logger,
		openTimeout:   openTimeout,
		deleteTimeout: deleteTimeout,
		state:         StateClosed,
	}
}

// Path returns the replica store path.
func (m *Manager) Path() string {
	return m.path
}

// State returns the current lifecycle state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// deletionMarker is the durable delete-on-next-open flag. It lives beside
// the database file (not inside it) so it survives a corrupt or
// unopenable store.
func (m *Manager) deletionMarker() string {
	return m.path + ".delete-pending"
}

// RequestDeletion durably flags the store for deletion before the next
// open. The flag outlives process restarts.
func (m *Manager) RequestDeletion() error {
	if err := os.WriteFile(m.deletionMarker(), []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write deletion marker: %w", err)
	}
	m.logger.Printf("Deletion requested for %s", m.path)
	return nil
}

// DeletionPending reports whether a durable deletion request exists.
func (m *Manager) DeletionPending() bool {
	_, err := os.Stat(m.deletionMarker())
	return err == nil
}

// Conn returns a usable connection handle, performing whatever lifecycle
// work is required: awaiting an in-flight deletion, executing a pending
// deletion request, opening, migrating, and recovering per the retry
// policy. Concurrent callers never observe a half-deleted store.
func (m *Manager) Conn(ctx context.Context) (*sql.DB, error) {
	for {
		m.mu.Lock()

		if ch := m.deleting; ch != nil {
			m.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if m.state == StateOpen && m.conn != nil {
			conn := m.conn
			m.mu.Unlock()
			return conn, nil
		}

		// Holding mu across the open serializes deletion and opening.
		defer m.mu.Unlock()
		return m.openLocked(ctx)
	}
}

// openLocked runs the full open sequence. Caller holds m.mu.
func (m *Manager) openLocked(ctx context.Context) (*sql.DB, error) {
	m.state = StateOpening

	// A pending deletion request is honored before any open attempt;
	// the flag is cleared by this code path, which executes the wipe.
	if m.DeletionPending() {
		m.logger.Printf("Executing pending deletion of %s", m.path)
		if err := os.Remove(m.deletionMarker()); err != nil && !os.IsNotExist(err) {
			m.state = StateClosed
			return nil, fmt.Errorf("failed to clear deletion marker: %w", err)
		}
		if err := m.deleteStore(ctx); err != nil {
			m.state = StateClosed
			return nil, fmt.Errorf("pending deletion failed: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxOpenAttempts; attempt++ {
		conn, err := m.openOnce(ctx)
		if err == nil {
			m.conn = conn
			m.state = StateOpen
			return conn, nil
		}
		lastErr = err
		m.logger.Printf("Open attempt %d/%d failed: %v", attempt, maxOpenAttempts, err)
	}

	// Last-resort recovery: delete the store and try one fresh open.
	m.logger.Printf("Open retries exhausted; deleting store for fresh start")
	if err := m.deleteStore(ctx); err != nil {
		m.state = StateClosed
		return nil, fmt.Errorf("%w: recovery deletion failed: %v (open error: %v)",
			ErrStorageUnavailable, err, lastErr)
	}

	conn, err := m.openOnce(ctx)
	if err != nil {
		m.state = StateClosed
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	m.conn = conn
	m.state = StateOpen
	return conn, nil
}

// openOnce performs one bounded open attempt, waiting through Blocked
// periods and running schema migrations on success. Caller holds m.mu.
func (m *Manager) openOnce(ctx context.Context) (*sql.DB, error) {
	openCtx, cancel := context.WithTimeout(ctx, m.openTimeout)
	defer cancel()

	var conn *sql.DB
	for {
		var err error
		conn, err = m.engine.Open(openCtx, m.path)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrBusy) {
			m.state = StateOpening
			return nil, err
		}

		// Another holder blocks us; wait for it to release rather than
		// failing the caller.
		if m.state != StateBlocked {
			m.logger.Printf("Open blocked by another connection; waiting")
			m.state = StateBlocked
		}
		select {
		case <-openCtx.Done():
			m.state = StateOpening
			return nil, fmt.Errorf("open timed out while blocked: %w", openCtx.Err())
		case <-time.After(blockedRetryDelay):
		}
	}
	m.state = StateOpening

	if err := Migrate(openCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return conn, nil
}

// deleteStore closes any cached handle and physically deletes the store,
// bounded by the delete timeout. Concurrent Conn callers wait on the
// deleting channel instead of observing a half-deleted store.
// Caller holds m.mu.
func (m *Manager) deleteStore(ctx context.Context) error {
	ch := make(chan struct{})
	m.deleting = ch

	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}

	delCtx, cancel := context.WithTimeout(ctx, m.deleteTimeout)
	err := m.engine.Delete(delCtx, m.path)
	cancel()

	m.deleting = nil
	close(ch)

	if err != nil {
		return fmt.Errorf("failed to delete store: %w", err)
	}
	m.logger.Printf("Deleted replica store %s", m.path)
	return nil
}

// OnBlocking is invoked when this connection is itself blocking a newer
// holder's schema upgrade. The manager proactively closes so the other
// holder can proceed; the next caller reopens.
func (m *Manager) OnBlocking() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Println("Blocking a newer connection; closing self")
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = StateClosed
}

// OnTerminated is invoked when the underlying storage dropped the
// connection (e.g. external eviction). The cached handle is invalidated;
// the next caller reopens from Closed.
func (m *Manager) OnTerminated() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Println("Connection terminated by storage engine")
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = StateTerminated
}

// Close releases the cached connection handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		m.state = StateClosed
		return nil
	}

	err := m.conn.Close()
	m.conn = nil
	m.state = StateClosed
	if err != nil {
		return fmt.Errorf("failed to close replica: %w", err)
	}
	return nil
}

// Wipe deletes the store immediately (clearing any pending deletion
// request), honoring the deletion gate.
func (m *Manager) Wipe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.deletionMarker()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear deletion marker: %w", err)
	}

	m.state = StateClosed
	return m.deleteStore(ctx)
}
