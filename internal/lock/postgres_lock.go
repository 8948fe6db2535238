package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"cronfire/internal/custom_errors"
)

// PostgresDistributedLockManager implements DistributedLockManager on top
// of advisory locks. Advisory locks are session scoped, so the manager
// pins each held lock to a dedicated connection; releasing through the
// pool could otherwise run the unlock on a session that never held it.
type PostgresDistributedLockManager struct {
	db *sql.DB

	mu    sync.Mutex
	conns map[int64]*sql.Conn
}

func NewPostgresDistributedLockManager(db *sql.DB) *PostgresDistributedLockManager {
	return &PostgresDistributedLockManager{
		db:    db,
		conns: make(map[int64]*sql.Conn),
	}
}

// Acquire blocks until the lock is granted or ctx expires.
func (l *PostgresDistributedLockManager) Acquire(ctx context.Context, lockID int64) error {
	l.mu.Lock()
	_, held := l.conns[lockID]
	l.mu.Unlock()
	if held {
		return custom_errors.NewConflictError(fmt.Sprintf("advisory lock %d is already held by this instance", lockID))
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return custom_errors.NewStorageUnavailableError("acquire advisory lock", err)
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		conn.Close()
		return custom_errors.NewStorageUnavailableError("acquire advisory lock", err)
	}

	l.mu.Lock()
	l.conns[lockID] = conn
	l.mu.Unlock()
	return nil
}

// Release unlocks on the connection that acquired the lock and returns it
// to the pool.
func (l *PostgresDistributedLockManager) Release(ctx context.Context, lockID int64) error {
	l.mu.Lock()
	conn, held := l.conns[lockID]
	delete(l.conns, lockID)
	l.mu.Unlock()

	if !held {
		return custom_errors.NewConflictError(fmt.Sprintf("advisory lock %d is not held", lockID))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
		return custom_errors.NewStorageUnavailableError("release advisory lock", err)
	}
	return nil
}
