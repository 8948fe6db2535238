// Package store defines the durable persistence contract shared by the
// postgres and redis backends. The scheduler's cluster safety rests on
// ClaimJob being a conditional write: two instances contending for the same
// due job must never both succeed.
package store

import (
	"context"
	"time"

	"cronfire/internal/models"
)

// JobFilter narrows ListJobs results. Nil fields match everything.
type JobFilter struct {
	Kind    *models.JobKind
	Enabled *bool
}

type JobStore interface {
	// CreateJob persists a new definition. Fails if the id already exists.
	CreateJob(ctx context.Context, job *models.JobDefinition) error

	// UpdateJob overwrites the mutable fields of an existing definition.
	UpdateJob(ctx context.Context, job *models.JobDefinition) error

	// DeleteJob removes a definition. Historical executions are kept.
	DeleteJob(ctx context.Context, id string) error

	GetJob(ctx context.Context, id string) (*models.JobDefinition, error)

	ListJobs(ctx context.Context, filter JobFilter, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error)

	// FetchDueJobs returns schedulable jobs with next_run_at <= now and no
	// live claim, ordered by next_run_at.
	FetchDueJobs(ctx context.Context, now time.Time, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error)

	// ClaimJob takes exclusive ownership of a job's current trigger via a
	// conditional write. Returns ConflictError when the race is lost.
	ClaimJob(ctx context.Context, id, claimedBy string, now time.Time) error

	// ReleaseJob clears the claim marker. A non-nil nextRunAt also advances
	// the schedule; forced triggers pass nil to leave it untouched.
	ReleaseJob(ctx context.Context, id string, nextRunAt *time.Time) error

	// ReleaseStaleClaims frees claims older than the TTL so a crashed
	// instance never wedges a job. Returns how many were released.
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error)

	AppendExecution(ctx context.Context, exec *models.JobExecution) error

	// UpdateExecution closes a running record into a terminal status.
	UpdateExecution(ctx context.Context, exec *models.JobExecution) error

	// ListExecutions returns history for a job, newest first.
	ListExecutions(ctx context.Context, jobID string, page, pageSize int) (*models.PaginationResult[models.JobExecution], error)

	// RunningExecution returns the live execution for a job, or nil.
	RunningExecution(ctx context.Context, jobID string) (*models.JobExecution, error)

	Close() error
}
