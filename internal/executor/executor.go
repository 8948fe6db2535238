// Package executor holds one implementation per job kind. Executors are
// deterministic over their payload and never touch store state; they return
// an outcome and the scheduler owns every transition.
package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"cronfire/internal/models"
)

type Executor interface {
	Kind() models.JobKind

	// Execute runs the payload. A nil return means success; the context
	// carries the per-kind timeout.
	Execute(ctx context.Context, payload json.RawMessage) error
}

// Registry maps each job kind to its single executor.
type Registry struct {
	executors map[models.JobKind]Executor
}

func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[models.JobKind]Executor, len(executors))}
	for _, e := range executors {
		r.executors[e.Kind()] = e
	}
	return r
}

func (r *Registry) For(kind models.JobKind) (Executor, error) {
	e, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("no executor registered for kind %q", kind)
	}
	return e, nil
}

func (r *Registry) Kinds() []models.JobKind {
	kinds := make([]models.JobKind, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	return kinds
}
