package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"cronfire/internal/lock"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate creates the schema and runs every embedded migration script in
// lexical order. A distributed lock keeps concurrent instances from racing
// each other on startup.
func Migrate(ctx context.Context, db *sql.DB, distributedLock lock.DistributedLockManager, logger *logrus.Logger) error {
	if err := distributedLock.Acquire(ctx, lock.MigrationLock); err != nil {
		return err
	}
	defer distributedLock.Release(ctx, lock.MigrationLock)

	if err := db.Ping(); err != nil {
		return err
	}

	if _, err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return err
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		logger.WithField("migration", name).Info("applying migration")
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}

	return nil
}
