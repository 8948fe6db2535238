package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cronfire/internal/custom_errors"
	"cronfire/internal/models"
	"cronfire/internal/state"
	"cronfire/internal/store"
)

// MemoryJobStore is a thread-safe in-memory store.JobStore with real
// conditional-claim semantics, used to exercise the scheduler's cluster
// behavior without a database.
type MemoryJobStore struct {
	mu    sync.Mutex
	jobs  map[string]*models.JobDefinition
	execs map[string][]*models.JobExecution
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:  make(map[string]*models.JobDefinition),
		execs: make(map[string][]*models.JobExecution),
	}
}

func (m *MemoryJobStore) CreateJob(_ context.Context, job *models.JobDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return custom_errors.NewConflictError(fmt.Sprintf("job %s already exists", job.ID))
	}
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *MemoryJobStore) UpdateJob(_ context.Context, job *models.JobDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return custom_errors.NewNotFoundError("job", job.ID)
	}
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *MemoryJobStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return custom_errors.NewNotFoundError("job", id)
	}
	delete(m.jobs, id)
	return nil
}

func (m *MemoryJobStore) GetJob(_ context.Context, id string) (*models.JobDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, custom_errors.NewNotFoundError("job", id)
	}
	clone := *job
	return &clone, nil
}

func (m *MemoryJobStore) ListJobs(_ context.Context, filter store.JobFilter, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []models.JobDefinition
	for _, job := range m.jobs {
		if filter.Kind != nil && job.Kind != *filter.Kind {
			continue
		}
		if filter.Enabled != nil && job.Enabled != *filter.Enabled {
			continue
		}
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return paginateJobs(jobs, page, pageSize), nil
}

func (m *MemoryJobStore) FetchDueJobs(_ context.Context, now time.Time, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []models.JobDefinition
	for _, job := range m.jobs {
		if !job.Schedulable() || job.ClaimedBy != nil || job.NextRunAt.After(now) {
			continue
		}
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].NextRunAt.Before(jobs[j].NextRunAt) })
	return paginateJobs(jobs, page, pageSize), nil
}

func (m *MemoryJobStore) ClaimJob(_ context.Context, id, claimedBy string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return custom_errors.NewNotFoundError("job", id)
	}
	if job.ClaimedBy != nil {
		return custom_errors.NewConflictError(fmt.Sprintf("job %s already claimed", id))
	}
	by := claimedBy
	at := now
	job.ClaimedBy = &by
	job.ClaimedAt = &at
	return nil
}

func (m *MemoryJobStore) ReleaseJob(_ context.Context, id string, nextRunAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return custom_errors.NewNotFoundError("job", id)
	}
	job.ClaimedBy = nil
	job.ClaimedAt = nil
	if nextRunAt != nil {
		job.NextRunAt = *nextRunAt
	}
	return nil
}

func (m *MemoryJobStore) ReleaseStaleClaims(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := 0
	cutoff := time.Now().Add(-olderThan)
	for _, job := range m.jobs {
		if job.ClaimedAt != nil && job.ClaimedAt.Before(cutoff) {
			job.ClaimedBy = nil
			job.ClaimedAt = nil
			released++
		}
	}
	return released, nil
}

func (m *MemoryJobStore) AppendExecution(_ context.Context, exec *models.JobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *exec
	m.execs[exec.JobID] = append(m.execs[exec.JobID], &clone)
	return nil
}

func (m *MemoryJobStore) UpdateExecution(_ context.Context, exec *models.JobExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, candidate := range m.execs[exec.JobID] {
		if candidate.ID == exec.ID {
			*candidate = *exec
			return nil
		}
	}
	return custom_errors.NewNotFoundError("execution", exec.ID)
}

func (m *MemoryJobStore) ListExecutions(_ context.Context, jobID string, page, pageSize int) (*models.PaginationResult[models.JobExecution], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.execs[jobID]
	execs := make([]models.JobExecution, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		execs = append(execs, *all[i])
	}

	total := len(execs)
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return models.NewPaginationResult(execs[start:end], total, page, pageSize), nil
}

func (m *MemoryJobStore) RunningExecution(_ context.Context, jobID string) (*models.JobExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, exec := range m.execs[jobID] {
		if exec.Status == state.StatusRunning {
			clone := *exec
			return &clone, nil
		}
	}
	return nil, nil
}

// Executions returns every recorded execution for a job, oldest first.
func (m *MemoryJobStore) Executions(jobID string) []models.JobExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.JobExecution, 0, len(m.execs[jobID]))
	for _, exec := range m.execs[jobID] {
		out = append(out, *exec)
	}
	return out
}

func (m *MemoryJobStore) Close() error {
	return nil
}

func paginateJobs(jobs []models.JobDefinition, page, pageSize int) *models.PaginationResult[models.JobDefinition] {
	if page < 1 {
		page = 1
	}
	total := len(jobs)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return models.NewPaginationResult(jobs[start:end], total, page, pageSize)
}
