package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cronfire/internal/models"
	"cronfire/internal/state"
)

func jobToMap(job *models.JobDefinition) map[string]interface{} {
	fields := map[string]interface{}{
		"id":          job.ID,
		"name":        job.Name,
		"kind":        job.Kind.String(),
		"expression":  job.Expression,
		"payload":     string(job.Payload),
		"enabled":     strconv.FormatBool(job.Enabled),
		"ignored":     strconv.FormatBool(job.Ignored),
		"next_run_at": job.NextRunAt.UTC().Format(time.RFC3339Nano),
		"created_at":  job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":  job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if job.ClaimedBy != nil {
		fields["claimed_by"] = *job.ClaimedBy
	}
	if job.ClaimedAt != nil {
		fields["claimed_at"] = job.ClaimedAt.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func jobFromMap(fields map[string]string) (*models.JobDefinition, error) {
	job := &models.JobDefinition{
		ID:         fields["id"],
		Name:       fields["name"],
		Kind:       models.JobKind(fields["kind"]),
		Expression: fields["expression"],
		Payload:    json.RawMessage(fields["payload"]),
	}

	var err error
	if job.Enabled, err = strconv.ParseBool(fields["enabled"]); err != nil {
		return nil, fmt.Errorf("job %s: bad enabled field: %w", job.ID, err)
	}
	if job.Ignored, err = strconv.ParseBool(fields["ignored"]); err != nil {
		return nil, fmt.Errorf("job %s: bad ignored field: %w", job.ID, err)
	}
	if job.NextRunAt, err = parseTime(fields["next_run_at"]); err != nil {
		return nil, fmt.Errorf("job %s: bad next_run_at: %w", job.ID, err)
	}
	if job.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, fmt.Errorf("job %s: bad created_at: %w", job.ID, err)
	}
	if job.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("job %s: bad updated_at: %w", job.ID, err)
	}

	if v, ok := fields["claimed_by"]; ok {
		job.ClaimedBy = &v
	}
	if v, ok := fields["claimed_at"]; ok {
		t, parseErr := parseTime(v)
		if parseErr != nil {
			return nil, fmt.Errorf("job %s: bad claimed_at: %w", job.ID, parseErr)
		}
		job.ClaimedAt = &t
	}
	return job, nil
}

func execToMap(exec *models.JobExecution) map[string]interface{} {
	fields := map[string]interface{}{
		"id":         exec.ID,
		"job_id":     exec.JobID,
		"attempt":    strconv.Itoa(exec.Attempt),
		"status":     exec.Status.String(),
		"started_at": exec.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if exec.FinishedAt != nil {
		fields["finished_at"] = exec.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	if exec.ErrorDetail != nil {
		fields["error_detail"] = *exec.ErrorDetail
	}
	return fields
}

func execFromMap(fields map[string]string) (*models.JobExecution, error) {
	exec := &models.JobExecution{
		ID:     fields["id"],
		JobID:  fields["job_id"],
		Status: state.ExecutionStatus(fields["status"]),
	}

	var err error
	if exec.Attempt, err = strconv.Atoi(fields["attempt"]); err != nil {
		return nil, fmt.Errorf("execution %s: bad attempt: %w", exec.ID, err)
	}
	if exec.StartedAt, err = parseTime(fields["started_at"]); err != nil {
		return nil, fmt.Errorf("execution %s: bad started_at: %w", exec.ID, err)
	}

	if v, ok := fields["finished_at"]; ok {
		t, parseErr := parseTime(v)
		if parseErr != nil {
			return nil, fmt.Errorf("execution %s: bad finished_at: %w", exec.ID, parseErr)
		}
		exec.FinishedAt = &t
	}
	if v, ok := fields["error_detail"]; ok {
		exec.ErrorDetail = &v
	}
	return exec, nil
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
