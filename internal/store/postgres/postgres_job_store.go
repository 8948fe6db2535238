package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"cronfire/internal/custom_errors"
	"cronfire/internal/models"
	"cronfire/internal/state"
	"cronfire/internal/store"
)

const schema = "cronfire_schema"

// uniqueViolation is the SQLSTATE class for duplicate-key inserts.
const uniqueViolation pq.ErrorCode = "23505"

type PostgresJobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

var jobColumns = `id, name, kind, expression, payload, enabled, ignored,
		       next_run_at, claimed_by, claimed_at, created_at, updated_at`

func (s *PostgresJobStore) CreateJob(ctx context.Context, job *models.JobDefinition) error {
	query := `
		INSERT INTO ` + schema + `.jobs
			(id, name, kind, expression, payload, enabled, ignored, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.Name, job.Kind.String(), job.Expression, []byte(job.Payload),
		job.Enabled, job.Ignored, job.NextRunAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return custom_errors.NewConflictError(fmt.Sprintf("job %s already exists", job.ID))
		}
		return custom_errors.NewStorageUnavailableError("CreateJob", err)
	}
	return nil
}

func (s *PostgresJobStore) UpdateJob(ctx context.Context, job *models.JobDefinition) error {
	query := `
		UPDATE ` + schema + `.jobs
		SET name = $1, expression = $2, payload = $3, enabled = $4,
		    ignored = $5, next_run_at = $6, updated_at = now()
		WHERE id = $7
	`
	res, err := s.db.ExecContext(ctx, query,
		job.Name, job.Expression, []byte(job.Payload), job.Enabled,
		job.Ignored, job.NextRunAt, job.ID,
	)
	if err != nil {
		return custom_errors.NewStorageUnavailableError("UpdateJob", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return custom_errors.NewNotFoundError("job", job.ID)
	}
	return nil
}

func (s *PostgresJobStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+schema+`.jobs WHERE id = $1`, id)
	if err != nil {
		return custom_errors.NewStorageUnavailableError("DeleteJob", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return custom_errors.NewNotFoundError("job", id)
	}
	return nil
}

func (s *PostgresJobStore) GetJob(ctx context.Context, id string) (*models.JobDefinition, error) {
	query := `SELECT ` + jobColumns + ` FROM ` + schema + `.jobs WHERE id = $1`

	row := s.db.QueryRowContext(ctx, query, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.NewNotFoundError("job", id)
	}
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("GetJob", err)
	}
	return job, nil
}

func (s *PostgresJobStore) ListJobs(ctx context.Context, filter store.JobFilter, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	where := "1=1"
	var args []interface{}
	argIndex := 1

	if filter.Kind != nil {
		where += fmt.Sprintf(" AND kind = $%d", argIndex)
		args = append(args, filter.Kind.String())
		argIndex++
	}
	if filter.Enabled != nil {
		where += fmt.Sprintf(" AND enabled = $%d", argIndex)
		args = append(args, *filter.Enabled)
		argIndex++
	}

	countQuery := `SELECT COUNT(*) FROM ` + schema + `.jobs WHERE ` + where
	selectQuery := `SELECT ` + jobColumns + ` FROM ` + schema + `.jobs WHERE ` + where +
		fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)

	var totalItems int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalItems); err != nil {
		return nil, custom_errors.NewStorageUnavailableError("ListJobs", err)
	}

	args = append(args, pageSize, offset)
	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("ListJobs", err)
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("ListJobs", err)
	}

	return models.NewPaginationResult(jobs, totalItems, page, pageSize), nil
}

func (s *PostgresJobStore) FetchDueJobs(ctx context.Context, now time.Time, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	where := `enabled = TRUE AND ignored = FALSE AND claimed_by IS NULL AND next_run_at <= $1`

	countQuery := `SELECT COUNT(*) FROM ` + schema + `.jobs WHERE ` + where
	selectQuery := `SELECT ` + jobColumns + ` FROM ` + schema + `.jobs WHERE ` + where +
		` ORDER BY next_run_at ASC LIMIT $2 OFFSET $3`

	var totalItems int
	if err := s.db.QueryRowContext(ctx, countQuery, now).Scan(&totalItems); err != nil {
		return nil, custom_errors.NewStorageUnavailableError("FetchDueJobs", err)
	}

	rows, err := s.db.QueryContext(ctx, selectQuery, now, pageSize, offset)
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("FetchDueJobs", err)
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("FetchDueJobs", err)
	}

	return models.NewPaginationResult(jobs, totalItems, page, pageSize), nil
}

// ClaimJob is the cluster-safety primitive: the WHERE clause only matches a
// row with no live claim, so of N contending instances exactly one sees
// RowsAffected == 1.
func (s *PostgresJobStore) ClaimJob(ctx context.Context, id, claimedBy string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+schema+`.jobs
		SET claimed_by = $1, claimed_at = $2
		WHERE id = $3 AND claimed_by IS NULL
	`, claimedBy, now, id)
	if err != nil {
		return custom_errors.NewStorageUnavailableError("ClaimJob", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		if _, getErr := s.GetJob(ctx, id); getErr != nil {
			return getErr
		}
		return custom_errors.NewConflictError(fmt.Sprintf("job %s already claimed", id))
	}
	return nil
}

func (s *PostgresJobStore) ReleaseJob(ctx context.Context, id string, nextRunAt *time.Time) error {
	var err error
	if nextRunAt != nil {
		_, err = s.db.ExecContext(ctx, `
			UPDATE `+schema+`.jobs
			SET claimed_by = NULL, claimed_at = NULL, next_run_at = $1
			WHERE id = $2
		`, *nextRunAt, id)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE `+schema+`.jobs
			SET claimed_by = NULL, claimed_at = NULL
			WHERE id = $1
		`, id)
	}
	if err != nil {
		return custom_errors.NewStorageUnavailableError("ReleaseJob", err)
	}
	return nil
}

func (s *PostgresJobStore) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+schema+`.jobs
		SET claimed_by = NULL, claimed_at = NULL
		WHERE claimed_by IS NOT NULL AND claimed_at <= $1
	`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, custom_errors.NewStorageUnavailableError("ReleaseStaleClaims", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *PostgresJobStore) AppendExecution(ctx context.Context, exec *models.JobExecution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+schema+`.executions
			(id, job_id, attempt, status, started_at, finished_at, error_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, exec.ID, exec.JobID, exec.Attempt, exec.Status.String(),
		exec.StartedAt, exec.FinishedAt, exec.ErrorDetail)
	if err != nil {
		return custom_errors.NewStorageUnavailableError("AppendExecution", err)
	}
	return nil
}

func (s *PostgresJobStore) UpdateExecution(ctx context.Context, exec *models.JobExecution) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+schema+`.executions
		SET status = $1, finished_at = $2, error_detail = $3
		WHERE id = $4
	`, exec.Status.String(), exec.FinishedAt, exec.ErrorDetail, exec.ID)
	if err != nil {
		return custom_errors.NewStorageUnavailableError("UpdateExecution", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return custom_errors.NewNotFoundError("execution", exec.ID)
	}
	return nil
}

func (s *PostgresJobStore) ListExecutions(ctx context.Context, jobID string, page, pageSize int) (*models.PaginationResult[models.JobExecution], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	var totalItems int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+schema+`.executions WHERE job_id = $1`, jobID,
	).Scan(&totalItems)
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("ListExecutions", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, attempt, status, started_at, finished_at, error_detail
		FROM `+schema+`.executions
		WHERE job_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`, jobID, pageSize, offset)
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("ListExecutions", err)
	}
	defer rows.Close()

	var execs []models.JobExecution
	for rows.Next() {
		exec, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, custom_errors.NewStorageUnavailableError("ListExecutions", scanErr)
		}
		execs = append(execs, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, custom_errors.NewStorageUnavailableError("ListExecutions", err)
	}

	return models.NewPaginationResult(execs, totalItems, page, pageSize), nil
}

func (s *PostgresJobStore) RunningExecution(ctx context.Context, jobID string) (*models.JobExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, attempt, status, started_at, finished_at, error_detail
		FROM `+schema+`.executions
		WHERE job_id = $1 AND status = 'running'
		ORDER BY started_at DESC
		LIMIT 1
	`, jobID)

	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("RunningExecution", err)
	}
	return exec, nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.JobDefinition, error) {
	var (
		job     models.JobDefinition
		kind    string
		payload []byte
	)
	err := row.Scan(
		&job.ID, &job.Name, &kind, &job.Expression, &payload,
		&job.Enabled, &job.Ignored, &job.NextRunAt,
		&job.ClaimedBy, &job.ClaimedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Kind = models.JobKind(strings.ToLower(kind))
	job.Payload = payload
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]models.JobDefinition, error) {
	var jobs []models.JobDefinition
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanExecution(row rowScanner) (*models.JobExecution, error) {
	var (
		exec   models.JobExecution
		status string
	)
	err := row.Scan(
		&exec.ID, &exec.JobID, &exec.Attempt, &status,
		&exec.StartedAt, &exec.FinishedAt, &exec.ErrorDetail,
	)
	if err != nil {
		return nil, err
	}
	exec.Status = state.ExecutionStatus(status)
	return &exec, nil
}
