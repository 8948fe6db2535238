// Package lock serializes cluster-wide critical sections, such as schema
// migration, across scheduler instances sharing a database.
package lock

import "context"

type DistributedLockManager interface {
	Acquire(ctx context.Context, lockID int64) error
	Release(ctx context.Context, lockID int64) error
}

// Lock ids used by the engine. Keep them stable across versions: instances
// running different builds must agree on them.
const (
	MigrationLock int64 = 7201
)
