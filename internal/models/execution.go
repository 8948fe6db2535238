package models

import (
	"time"

	"cronfire/internal/state"
)

// JobExecution is one attempt at running a job. Records are append-only;
// the only mutation is closing a running record into a terminal status.
type JobExecution struct {
	ID          string                `json:"id"`
	JobID       string                `json:"job_id"`
	Attempt     int                   `json:"attempt"`
	Status      state.ExecutionStatus `json:"status"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  *time.Time            `json:"finished_at,omitempty"`
	ErrorDetail *string               `json:"error_detail,omitempty"`
}

// JobResult carries an executor outcome from a worker goroutine to the
// scheduler's result processor.
type JobResult struct {
	JobID       string
	ExecutionID string
	Attempt     int
	MaxRetries  int
	Err         error
	Status      state.ExecutionStatus
	RanAt       time.Time
	NextRun     time.Time
	Forced      bool
}
