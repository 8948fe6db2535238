// Package manager is the write-side surface for job definitions. One
// JobManager is bound to a single job kind; the web layer holds one per
// kind. All validation happens here, before anything touches the store.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cronfire/internal/cronexpr"
	"cronfire/internal/custom_errors"
	"cronfire/internal/models"
	"cronfire/internal/store"
)

// Triggerer forces a job to run out of band. Implemented by the scheduler.
type Triggerer interface {
	Trigger(ctx context.Context, jobID string) error
}

// JobInput carries the writable fields of a definition.
type JobInput struct {
	Name       string          `json:"name"`
	Expression string          `json:"expression"`
	Payload    json.RawMessage `json:"payload"`
	Enabled    *bool           `json:"enabled,omitempty"`
}

type JobManager struct {
	kind      models.JobKind
	store     store.JobStore
	triggerer Triggerer
	ignored   map[string]struct{}
	logger    *logrus.Logger
}

// New binds a manager to one kind. ignoreCrons holds expressions that are
// stored but never scheduled; matching is exact on the raw expression text.
func New(kind models.JobKind, jobStore store.JobStore, triggerer Triggerer, ignoreCrons []string, logger *logrus.Logger) *JobManager {
	ignored := make(map[string]struct{}, len(ignoreCrons))
	for _, expr := range ignoreCrons {
		ignored[expr] = struct{}{}
	}
	return &JobManager{
		kind:      kind,
		store:     jobStore,
		triggerer: triggerer,
		ignored:   ignored,
		logger:    logger,
	}
}

func (jm *JobManager) Kind() models.JobKind { return jm.kind }

// Add validates and persists a new definition. The first NextRunAt is
// computed from the expression at creation time.
func (jm *JobManager) Add(ctx context.Context, input JobInput) (*models.JobDefinition, error) {
	if err := jm.validate(input); err != nil {
		return nil, err
	}

	now := time.Now()
	next, err := cronexpr.NextRun(input.Expression, now)
	if err != nil {
		return nil, err
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	job := &models.JobDefinition{
		ID:         uuid.NewString(),
		Name:       input.Name,
		Kind:       jm.kind,
		Expression: input.Expression,
		Payload:    input.Payload,
		Enabled:    enabled,
		Ignored:    jm.isIgnored(input.Expression),
		NextRunAt:  next,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := jm.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	jm.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"kind":   jm.kind.String(),
		"name":   job.Name,
	}).Info("job created")

	return job, nil
}

// Update applies a patch to an existing definition. Empty fields keep
// their current value. Changing the expression recomputes NextRunAt and
// the ignored flag.
func (jm *JobManager) Update(ctx context.Context, id string, input JobInput) (*models.JobDefinition, error) {
	job, err := jm.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != "" {
		job.Name = input.Name
	}
	if input.Payload != nil {
		job.Payload = input.Payload
	}
	if input.Enabled != nil {
		job.Enabled = *input.Enabled
	}

	if input.Expression != "" && input.Expression != job.Expression {
		if err := cronexpr.Validate(input.Expression); err != nil {
			verr := &custom_errors.ValidationError{}
			verr.Add(fmt.Errorf("expression: %w", err))
			return nil, verr
		}
		next, err := cronexpr.NextRun(input.Expression, time.Now())
		if err != nil {
			return nil, err
		}
		job.Expression = input.Expression
		job.Ignored = jm.isIgnored(input.Expression)
		job.NextRunAt = next
	}

	if job.Payload != nil {
		if err := models.ValidatePayload(jm.kind, job.Payload); err != nil {
			return nil, err
		}
	}

	job.UpdatedAt = time.Now()
	if err := jm.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	jm.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"kind":   jm.kind.String(),
	}).Info("job updated")

	return job, nil
}

// Delete removes the definition. Execution history is kept.
func (jm *JobManager) Delete(ctx context.Context, id string) error {
	if _, err := jm.get(ctx, id); err != nil {
		return err
	}
	if err := jm.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	jm.logger.WithFields(logrus.Fields{
		"job_id": id,
		"kind":   jm.kind.String(),
	}).Info("job deleted")
	return nil
}

func (jm *JobManager) Get(ctx context.Context, id string) (*models.JobDefinition, error) {
	return jm.get(ctx, id)
}

// Trigger forces an immediate run through the scheduler. The schedule is
// not altered; a job already holding a claim is rejected.
func (jm *JobManager) Trigger(ctx context.Context, id string) error {
	if _, err := jm.get(ctx, id); err != nil {
		return err
	}
	return jm.triggerer.Trigger(ctx, id)
}

// List returns this kind's definitions, optionally filtered by enabled.
func (jm *JobManager) List(ctx context.Context, enabled *bool, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error) {
	kind := jm.kind
	return jm.store.ListJobs(ctx, store.JobFilter{Kind: &kind, Enabled: enabled}, page, pageSize)
}

// Executions returns the job's run history, newest first.
func (jm *JobManager) Executions(ctx context.Context, id string, page, pageSize int) (*models.PaginationResult[models.JobExecution], error) {
	if _, err := jm.get(ctx, id); err != nil {
		return nil, err
	}
	return jm.store.ListExecutions(ctx, id, page, pageSize)
}

// get fetches the job and checks it belongs to this manager's kind; a
// definition of another kind is reported as not found rather than leaked.
func (jm *JobManager) get(ctx context.Context, id string) (*models.JobDefinition, error) {
	job, err := jm.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Kind != jm.kind {
		return nil, custom_errors.NewNotFoundError("job", id)
	}
	return job, nil
}

func (jm *JobManager) isIgnored(expression string) bool {
	_, ok := jm.ignored[expression]
	return ok
}

func (jm *JobManager) validate(input JobInput) error {
	verr := &custom_errors.ValidationError{}

	if input.Name == "" {
		verr.Add(fmt.Errorf("name: is required"))
	}

	if input.Expression == "" {
		verr.Add(fmt.Errorf("expression: is required"))
	} else if err := cronexpr.Validate(input.Expression); err != nil {
		verr.Add(fmt.Errorf("expression: %w", err))
	}

	if len(input.Payload) == 0 {
		verr.Add(fmt.Errorf("payload: is required"))
	} else if err := models.ValidatePayload(jm.kind, input.Payload); err != nil {
		verr.Add(fmt.Errorf("payload: %w", err))
	}

	if verr.HasError() {
		return verr
	}
	return nil
}
