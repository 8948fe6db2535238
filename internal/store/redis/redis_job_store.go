package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"cronfire/internal/custom_errors"
	"cronfire/internal/models"
	"cronfire/internal/state"
	"cronfire/internal/store"
)

// DefaultClaimTTL bounds how long a claim can outlive its instance. A
// crashed claimer's key simply expires and the job becomes due again.
const DefaultClaimTTL = 10 * time.Minute

type RedisJobStore struct {
	client   *goredis.Client
	claimTTL time.Duration
}

func NewJobStore(client *goredis.Client, claimTTL time.Duration) *RedisJobStore {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	return &RedisJobStore{client: client, claimTTL: claimTTL}
}

func (s *RedisJobStore) CreateJob(ctx context.Context, job *models.JobDefinition) error {
	key := jobKey(job.ID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return custom_errors.NewStorageUnavailableError("CreateJob", err)
	}
	if exists > 0 {
		return custom_errors.NewConflictError(fmt.Sprintf("job %s already exists", job.ID))
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(job))
	pipe.SAdd(ctx, jobIDsKey, job.ID)
	if job.Schedulable() {
		pipe.ZAdd(ctx, dueKey, goredis.Z{Score: float64(job.NextRunAt.Unix()), Member: job.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return custom_errors.NewStorageUnavailableError("CreateJob", err)
	}
	return nil
}

func (s *RedisJobStore) UpdateJob(ctx context.Context, job *models.JobDefinition) error {
	key := jobKey(job.ID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return custom_errors.NewStorageUnavailableError("UpdateJob", err)
	}
	if exists == 0 {
		return custom_errors.NewNotFoundError("job", job.ID)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(job))
	if job.Schedulable() {
		pipe.ZAdd(ctx, dueKey, goredis.Z{Score: float64(job.NextRunAt.Unix()), Member: job.ID})
	} else {
		pipe.ZRem(ctx, dueKey, job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return custom_errors.NewStorageUnavailableError("UpdateJob", err)
	}
	return nil
}

func (s *RedisJobStore) DeleteJob(ctx context.Context, id string) error {
	exists, err := s.client.Exists(ctx, jobKey(id)).Result()
	if err != nil {
		return custom_errors.NewStorageUnavailableError("DeleteJob", err)
	}
	if exists == 0 {
		return custom_errors.NewNotFoundError("job", id)
	}

	// Execution history is kept for audit.
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(id), claimKey(id))
	pipe.SRem(ctx, jobIDsKey, id)
	pipe.ZRem(ctx, dueKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return custom_errors.NewStorageUnavailableError("DeleteJob", err)
	}
	return nil
}

func (s *RedisJobStore) GetJob(ctx context.Context, id string) (*models.JobDefinition, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("GetJob", err)
	}
	if len(fields) == 0 {
		return nil, custom_errors.NewNotFoundError("job", id)
	}
	return jobFromMap(fields)
}

func (s *RedisJobStore) ListJobs(ctx context.Context, filter store.JobFilter, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("ListJobs", err)
	}

	var jobs []models.JobDefinition
	for _, id := range ids {
		job, getErr := s.GetJob(ctx, id)
		if errors.Is(getErr, custom_errors.ErrNotFound) {
			continue
		}
		if getErr != nil {
			return nil, getErr
		}
		if filter.Kind != nil && job.Kind != *filter.Kind {
			continue
		}
		if filter.Enabled != nil && job.Enabled != *filter.Enabled {
			continue
		}
		jobs = append(jobs, *job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	return paginate(jobs, page, pageSize), nil
}

func (s *RedisJobStore) FetchDueJobs(ctx context.Context, now time.Time, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error) {
	ids, err := s.client.ZRangeByScore(ctx, dueKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("FetchDueJobs", err)
	}

	var jobs []models.JobDefinition
	for _, id := range ids {
		// Skip anything with a live claim.
		claimed, claimErr := s.client.Exists(ctx, claimKey(id)).Result()
		if claimErr != nil {
			return nil, custom_errors.NewStorageUnavailableError("FetchDueJobs", claimErr)
		}
		if claimed > 0 {
			continue
		}

		job, getErr := s.GetJob(ctx, id)
		if getErr != nil {
			if errors.Is(getErr, custom_errors.ErrStorageUnavailable) {
				return nil, getErr
			}
			// Missing or undecodable hash: evict the stray due entry so
			// one bad key cannot wedge every poll.
			s.client.ZRem(ctx, dueKey, id)
			continue
		}
		if !job.Schedulable() {
			continue
		}
		jobs = append(jobs, *job)
	}

	return paginate(jobs, page, pageSize), nil
}

// ClaimJob relies on SETNX: of N contending instances exactly one creates
// the claim key. The TTL doubles as stale-claim recovery.
func (s *RedisJobStore) ClaimJob(ctx context.Context, id, claimedBy string, now time.Time) error {
	if _, err := s.GetJob(ctx, id); err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, claimKey(id), claimedBy, s.claimTTL).Result()
	if err != nil {
		return custom_errors.NewStorageUnavailableError("ClaimJob", err)
	}
	if !ok {
		return custom_errors.NewConflictError(fmt.Sprintf("job %s already claimed", id))
	}

	s.client.HSet(ctx, jobKey(id),
		"claimed_by", claimedBy,
		"claimed_at", now.UTC().Format(time.RFC3339Nano),
	)
	return nil
}

func (s *RedisJobStore) ReleaseJob(ctx context.Context, id string, nextRunAt *time.Time) error {
	exists, err := s.client.Exists(ctx, jobKey(id)).Result()
	if err != nil {
		return custom_errors.NewStorageUnavailableError("ReleaseJob", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, claimKey(id))
	if exists == 0 {
		// Deleted while its run was in flight. Drop the leftover due
		// entry; writing through HSet here would resurrect the hash
		// with a single field.
		pipe.ZRem(ctx, dueKey, id)
	} else {
		pipe.HDel(ctx, jobKey(id), "claimed_by", "claimed_at")
		if nextRunAt != nil {
			pipe.HSet(ctx, jobKey(id), "next_run_at", nextRunAt.UTC().Format(time.RFC3339Nano))
			pipe.ZAdd(ctx, dueKey, goredis.Z{Score: float64(nextRunAt.Unix()), Member: id})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return custom_errors.NewStorageUnavailableError("ReleaseJob", err)
	}
	return nil
}

// ReleaseStaleClaims clears leftover hash markers whose claim key has
// already expired. The keys themselves age out via TTL.
func (s *RedisJobStore) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, custom_errors.NewStorageUnavailableError("ReleaseStaleClaims", err)
	}

	released := 0
	for _, id := range ids {
		claimedAt, hErr := s.client.HGet(ctx, jobKey(id), "claimed_at").Result()
		if errors.Is(hErr, goredis.Nil) || hErr != nil {
			continue
		}
		ts, parseErr := time.Parse(time.RFC3339Nano, claimedAt)
		if parseErr != nil || time.Since(ts) < olderThan {
			continue
		}
		live, exErr := s.client.Exists(ctx, claimKey(id)).Result()
		if exErr != nil || live > 0 {
			continue
		}
		if err := s.client.HDel(ctx, jobKey(id), "claimed_by", "claimed_at").Err(); err == nil {
			released++
		}
	}
	return released, nil
}

func (s *RedisJobStore) AppendExecution(ctx context.Context, exec *models.JobExecution) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, execKey(exec.ID), execToMap(exec))
	pipe.LPush(ctx, execListKey(exec.JobID), exec.ID)
	if exec.Status == state.StatusRunning {
		pipe.Set(ctx, runningKey(exec.JobID), exec.ID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return custom_errors.NewStorageUnavailableError("AppendExecution", err)
	}
	return nil
}

func (s *RedisJobStore) UpdateExecution(ctx context.Context, exec *models.JobExecution) error {
	exists, err := s.client.Exists(ctx, execKey(exec.ID)).Result()
	if err != nil {
		return custom_errors.NewStorageUnavailableError("UpdateExecution", err)
	}
	if exists == 0 {
		return custom_errors.NewNotFoundError("execution", exec.ID)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, execKey(exec.ID), execToMap(exec))
	if exec.Status.Terminal() {
		pipe.Del(ctx, runningKey(exec.JobID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return custom_errors.NewStorageUnavailableError("UpdateExecution", err)
	}
	return nil
}

func (s *RedisJobStore) ListExecutions(ctx context.Context, jobID string, page, pageSize int) (*models.PaginationResult[models.JobExecution], error) {
	if page < 1 {
		page = 1
	}
	listKey := execListKey(jobID)

	total, err := s.client.LLen(ctx, listKey).Result()
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("ListExecutions", err)
	}

	start := int64((page - 1) * pageSize)
	stop := start + int64(pageSize) - 1
	ids, err := s.client.LRange(ctx, listKey, start, stop).Result()
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("ListExecutions", err)
	}

	var execs []models.JobExecution
	for _, id := range ids {
		fields, hErr := s.client.HGetAll(ctx, execKey(id)).Result()
		if hErr != nil {
			return nil, custom_errors.NewStorageUnavailableError("ListExecutions", hErr)
		}
		if len(fields) == 0 {
			continue
		}
		exec, mapErr := execFromMap(fields)
		if mapErr != nil {
			return nil, mapErr
		}
		execs = append(execs, *exec)
	}

	return models.NewPaginationResult(execs, int(total), page, pageSize), nil
}

func (s *RedisJobStore) RunningExecution(ctx context.Context, jobID string) (*models.JobExecution, error) {
	id, err := s.client.Get(ctx, runningKey(jobID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("RunningExecution", err)
	}

	fields, err := s.client.HGetAll(ctx, execKey(id)).Result()
	if err != nil {
		return nil, custom_errors.NewStorageUnavailableError("RunningExecution", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return execFromMap(fields)
}

func (s *RedisJobStore) Close() error {
	return s.client.Close()
}

func paginate(jobs []models.JobDefinition, page, pageSize int) *models.PaginationResult[models.JobDefinition] {
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
