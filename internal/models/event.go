package models

import (
	"time"

	"cronfire/internal/state"
)

// LifecycleEvent is pushed to connected observers on every execution state
// transition. Delivery is best effort; durable history lives in
// JobExecution records.
type LifecycleEvent struct {
	JobID       string                `json:"job_id"`
	JobName     string                `json:"job_name"`
	Kind        JobKind               `json:"kind"`
	Status      state.ExecutionStatus `json:"status"`
	Attempt     int                   `json:"attempt"`
	Timestamp   time.Time             `json:"timestamp"`
	ErrorDetail *string               `json:"error_detail,omitempty"`
}
