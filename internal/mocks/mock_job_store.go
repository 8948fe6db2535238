// Package mocks holds hand-written test doubles shared by the scheduler,
// manager, and web tests.
package mocks

import (
	"context"
	"time"

	"cronfire/internal/models"
	"cronfire/internal/store"
)

// MockJobStore is a func-field implementation of store.JobStore. Unset
// fields fall back to benign defaults.
type MockJobStore struct {
	CreateJobFunc          func(ctx context.Context, job *models.JobDefinition) error
	UpdateJobFunc          func(ctx context.Context, job *models.JobDefinition) error
	DeleteJobFunc          func(ctx context.Context, id string) error
	GetJobFunc             func(ctx context.Context, id string) (*models.JobDefinition, error)
	ListJobsFunc           func(ctx context.Context, filter store.JobFilter, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error)
	FetchDueJobsFunc       func(ctx context.Context, now time.Time, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error)
	ClaimJobFunc           func(ctx context.Context, id, claimedBy string, now time.Time) error
	ReleaseJobFunc         func(ctx context.Context, id string, nextRunAt *time.Time) error
	ReleaseStaleClaimsFunc func(ctx context.Context, olderThan time.Duration) (int, error)
	AppendExecutionFunc    func(ctx context.Context, exec *models.JobExecution) error
	UpdateExecutionFunc    func(ctx context.Context, exec *models.JobExecution) error
	ListExecutionsFunc     func(ctx context.Context, jobID string, page, pageSize int) (*models.PaginationResult[models.JobExecution], error)
	RunningExecutionFunc   func(ctx context.Context, jobID string) (*models.JobExecution, error)
	CloseFunc              func() error
}

func (m *MockJobStore) CreateJob(ctx context.Context, job *models.JobDefinition) error {
	if m.CreateJobFunc != nil {
		return m.CreateJobFunc(ctx, job)
	}
	return nil
}

func (m *MockJobStore) UpdateJob(ctx context.Context, job *models.JobDefinition) error {
	if m.UpdateJobFunc != nil {
		return m.UpdateJobFunc(ctx, job)
	}
	return nil
}

func (m *MockJobStore) DeleteJob(ctx context.Context, id string) error {
	if m.DeleteJobFunc != nil {
		return m.DeleteJobFunc(ctx, id)
	}
	return nil
}

func (m *MockJobStore) GetJob(ctx context.Context, id string) (*models.JobDefinition, error) {
	if m.GetJobFunc != nil {
		return m.GetJobFunc(ctx, id)
	}
	return &models.JobDefinition{ID: id}, nil
}

func (m *MockJobStore) ListJobs(ctx context.Context, filter store.JobFilter, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error) {
	if m.ListJobsFunc != nil {
		return m.ListJobsFunc(ctx, filter, page, pageSize)
	}
	return models.NewPaginationResult([]models.JobDefinition{}, 0, page, pageSize), nil
}

func (m *MockJobStore) FetchDueJobs(ctx context.Context, now time.Time, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error) {
	if m.FetchDueJobsFunc != nil {
		return m.FetchDueJobsFunc(ctx, now, page, pageSize)
	}
	return models.NewPaginationResult([]models.JobDefinition{}, 0, page, pageSize), nil
}

func (m *MockJobStore) ClaimJob(ctx context.Context, id, claimedBy string, now time.Time) error {
	if m.ClaimJobFunc != nil {
		return m.ClaimJobFunc(ctx, id, claimedBy, now)
	}
	return nil
}

func (m *MockJobStore) ReleaseJob(ctx context.Context, id string, nextRunAt *time.Time) error {
	if m.ReleaseJobFunc != nil {
		return m.ReleaseJobFunc(ctx, id, nextRunAt)
	}
	return nil
}

func (m *MockJobStore) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	if m.ReleaseStaleClaimsFunc != nil {
		return m.ReleaseStaleClaimsFunc(ctx, olderThan)
	}
	return 0, nil
}

func (m *MockJobStore) AppendExecution(ctx context.Context, exec *models.JobExecution) error {
	if m.AppendExecutionFunc != nil {
		return m.AppendExecutionFunc(ctx, exec)
	}
	return nil
}

func (m *MockJobStore) UpdateExecution(ctx context.Context, exec *models.JobExecution) error {
	if m.UpdateExecutionFunc != nil {
		return m.UpdateExecutionFunc(ctx, exec)
	}
	return nil
}

func (m *MockJobStore) ListExecutions(ctx context.Context, jobID string, page, pageSize int) (*models.PaginationResult[models.JobExecution], error) {
	if m.ListExecutionsFunc != nil {
		return m.ListExecutionsFunc(ctx, jobID, page, pageSize)
	}
	return models.NewPaginationResult([]models.JobExecution{}, 0, page, pageSize), nil
}

func (m *MockJobStore) RunningExecution(ctx context.Context, jobID string) (*models.JobExecution, error) {
	if m.RunningExecutionFunc != nil {
		return m.RunningExecutionFunc(ctx, jobID)
	}
	return nil, nil
}

func (m *MockJobStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
