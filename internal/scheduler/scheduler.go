// Package scheduler drives the trigger state machine: it polls the store
// for due jobs, claims each one through the store's conditional write,
// dispatches to the kind's executor on a bounded worker pool, applies the
// retry policy, and records every transition.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"cronfire/internal/cronexpr"
	"cronfire/internal/custom_errors"
	"cronfire/internal/executor"
	"cronfire/internal/hub"
	"cronfire/internal/models"
	"cronfire/internal/state"
	"cronfire/internal/store"
)

type Config struct {
	// Instance identifies this scheduler process in claim markers.
	Instance string

	PollInterval time.Duration
	WorkerCount  int64
	BatchSize    int

	// MaxRetries is how many times a failed trigger is retried before the
	// final failed status. maxRetries=2 means at most 3 attempts.
	MaxRetries int

	// Timeouts per job kind; DefaultTimeout applies when a kind is absent.
	Timeouts       map[models.JobKind]time.Duration
	DefaultTimeout time.Duration

	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// ClaimTTL bounds how long a crashed instance's claim survives.
	ClaimTTL time.Duration
}

func (c *Config) withDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 10
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = time.Minute
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 10 * time.Minute
	}
}

type Scheduler struct {
	store    store.JobStore
	registry *executor.Registry
	hub      *hub.NotificationHub
	logger   *logrus.Logger
	cfg      Config

	results chan models.JobResult

	mu      sync.Mutex
	baseCtx context.Context
}

func New(jobStore store.JobStore, registry *executor.Registry, notificationHub *hub.NotificationHub, logger *logrus.Logger, cfg Config) *Scheduler {
	cfg.withDefaults()
	return &Scheduler{
		store:    jobStore,
		registry: registry,
		hub:      notificationHub,
		logger:   logger,
		cfg:      cfg,
		results:  make(chan models.JobResult, 1000),
	}
}

// Run blocks until ctx is cancelled. It starts the result processor, the
// stale-claim janitor, and the polling loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if released, err := s.store.ReleaseStaleClaims(ctx, s.cfg.ClaimTTL); err != nil {
		s.logger.WithError(err).Warn("stale claim recovery failed at startup")
	} else if released > 0 {
		s.logger.WithField("count", released).Info("released stale claims")
	}

	go s.processResults(ctx)
	go s.janitor(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	sem := semaphore.NewWeighted(s.cfg.WorkerCount)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.processDueJobs(ctx, sem, &wg)
		}
	}
}

// Trigger forces an immediate out-of-band run. A job with a live claim (a
// natural run in flight, or another forced trigger) is rejected with
// ConflictError. NextRunAt is left untouched.
func (s *Scheduler) Trigger(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if err := s.store.ClaimJob(ctx, job.ID, s.cfg.Instance, time.Now()); err != nil {
		if errors.Is(err, custom_errors.ErrConflict) {
			return custom_errors.NewConflictError(fmt.Sprintf("job %s is already running", job.ID))
		}
		return err
	}

	go s.executeClaimed(s.runContext(), job, true)
	return nil
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

func (s *Scheduler) processDueJobs(ctx context.Context, sem *semaphore.Weighted, wg *sync.WaitGroup) {
	now := time.Now()
	page := 1
	for {
		result, err := s.store.FetchDueJobs(ctx, now, page, s.cfg.BatchSize)
		if err != nil {
			// Transient storage trouble pauses this tick; the job is not
			// failed and the next tick retries.
			s.logger.WithError(err).Error("failed to fetch due jobs")
			return
		}

		for i := range result.Items {
			job := result.Items[i]
			if !job.Schedulable() {
				continue
			}

			if err := s.store.ClaimJob(ctx, job.ID, s.cfg.Instance, now); err != nil {
				if errors.Is(err, custom_errors.ErrConflict) {
					// Another instance won the race; nothing to do.
					s.logger.WithField("job_id", job.ID).Debug("lost claim race")
					continue
				}
				s.logger.WithError(err).WithField("job_id", job.ID).Error("claim failed")
				continue
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				s.releaseAfterClaimFailure(job)
				return
			}
			wg.Add(1)

			go func(job models.JobDefinition) {
				defer sem.Release(1)
				defer wg.Done()
				s.executeClaimed(ctx, &job, false)
			}(job)
		}

		if !result.HasNextPage {
			return
		}
		page++
	}
}

// executeClaimed runs all attempts for one trigger while holding the
// claim, which is what makes executions of a single job strictly
// sequential. The claim is released by the result processor.
func (s *Scheduler) executeClaimed(ctx context.Context, job *models.JobDefinition, forced bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("job_id", job.ID).Errorf("panic during execution: %v", r)
			s.releaseAfterClaimFailure(*job)
		}
	}()

	s.closeAbandonedExecution(ctx, job)

	exec, err := s.registry.For(job.Kind)
	if err != nil {
		// A definition with no executor cannot run; close the trigger as
		// failed without retrying.
		s.finishTrigger(job, s.recordOutcome(ctx, job, 1, err), forced, err)
		return
	}

	attempt := 1
	for {
		runErr := s.runAttempt(ctx, job, exec, attempt)
		if runErr == nil {
			s.finishTrigger(job, state.StatusSucceeded, forced, nil)
			return
		}

		if errors.Is(runErr, custom_errors.ErrStorageUnavailable) {
			// A store outage is not a job failure. Hand the claim back with
			// the schedule untouched so a later tick retries the trigger
			// with its full retry budget.
			s.logger.WithError(runErr).WithField("job_id", job.ID).Warn("storage unavailable during attempt, releasing claim")
			s.releaseAfterClaimFailure(*job)
			return
		}

		if attempt > s.cfg.MaxRetries {
			s.finishTrigger(job, state.StatusFailed, forced, runErr)
			return
		}

		delay := retryDelay(s.cfg.RetryBackoff, s.cfg.MaxRetryBackoff, attempt)
		select {
		case <-ctx.Done():
			s.finishTrigger(job, state.StatusFailed, forced, ctx.Err())
			return
		case <-time.After(delay):
		}
		attempt++
	}
}

// runAttempt opens an execution record, invokes the executor under the
// kind's timeout, and closes the record. Returns nil on success.
func (s *Scheduler) runAttempt(ctx context.Context, job *models.JobDefinition, exec executor.Executor, attempt int) error {
	record := &models.JobExecution{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Attempt:   attempt,
		Status:    state.StatusRunning,
		StartedAt: time.Now(),
	}
	if err := s.store.AppendExecution(ctx, record); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Error("failed to open execution record")
		return err
	}
	s.publish(job, record, nil)

	execCtx, cancel := context.WithTimeout(ctx, s.timeoutFor(job.Kind))
	runErr := exec.Execute(execCtx, job.Payload)
	cancel()

	now := time.Now()
	record.FinishedAt = &now

	if runErr == nil {
		record.Status = state.StatusSucceeded
	} else {
		detail := runErr.Error()
		record.ErrorDetail = &detail
		if attempt <= s.cfg.MaxRetries {
			record.Status = state.StatusRetrying
		} else {
			record.Status = state.StatusFailed
		}
	}

	if !state.IsValidTransition(state.StatusRunning, record.Status) {
		s.logger.WithField("job_id", job.ID).Errorf("invalid transition running -> %s", record.Status)
	} else if err := s.store.UpdateExecution(ctx, record); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Error("failed to close execution record")
	}

	s.publish(job, record, record.ErrorDetail)
	return runErr
}

// closeAbandonedExecution handles the crash-recovery edge: a stale claim
// was released while its execution record was still open. The record is
// closed as failed before a fresh attempt starts, preserving the
// one-running-execution invariant.
func (s *Scheduler) closeAbandonedExecution(ctx context.Context, job *models.JobDefinition) {
	running, err := s.store.RunningExecution(ctx, job.ID)
	if err != nil || running == nil {
		return
	}

	now := time.Now()
	detail := "abandoned by previous scheduler instance"
	running.Status = state.StatusFailed
	running.FinishedAt = &now
	running.ErrorDetail = &detail
	if err := s.store.UpdateExecution(ctx, running); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Warn("failed to close abandoned execution")
	}
}

func (s *Scheduler) recordOutcome(ctx context.Context, job *models.JobDefinition, attempt int, runErr error) state.ExecutionStatus {
	now := time.Now()
	detail := runErr.Error()
	record := &models.JobExecution{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		Attempt:     attempt,
		Status:      state.StatusFailed,
		StartedAt:   now,
		FinishedAt:  &now,
		ErrorDetail: &detail,
	}
	if err := s.store.AppendExecution(ctx, record); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Error("failed to record execution outcome")
	}
	s.publish(job, record, &detail)
	return state.StatusFailed
}

// finishTrigger hands the terminal outcome to the result processor, which
// releases the claim and advances the schedule.
func (s *Scheduler) finishTrigger(job *models.JobDefinition, status state.ExecutionStatus, forced bool, runErr error) {
	now := time.Now()

	var next time.Time
	if !forced {
		computed, err := cronexpr.NextRunAfterSkips(job.Expression, job.NextRunAt, now)
		if err != nil {
			s.logger.WithError(err).WithField("job_id", job.ID).Error("failed to compute next run")
			computed = now.Add(time.Hour)
		}
		next = computed
	}

	s.results <- models.JobResult{
		JobID:      job.ID,
		MaxRetries: s.cfg.MaxRetries,
		Err:        runErr,
		Status:     status,
		RanAt:      now,
		NextRun:    next,
		Forced:     forced,
	}
}

func (s *Scheduler) processResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-s.results:
			entry := s.logger.WithFields(logrus.Fields{
				"job_id": res.JobID,
				"status": res.Status.String(),
				"forced": res.Forced,
			})
			if res.Err != nil {
				entry = entry.WithError(res.Err)
			}
			entry.Info("trigger finished")

			var next *time.Time
			if !res.Forced {
				next = &res.NextRun
			}
			if err := s.store.ReleaseJob(ctx, res.JobID, next); err != nil {
				s.logger.WithError(err).WithField("job_id", res.JobID).Error("failed to release claim")
			}
		}
	}
}

// janitor periodically frees claims whose owner died without releasing.
func (s *Scheduler) janitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ClaimTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := s.store.ReleaseStaleClaims(ctx, s.cfg.ClaimTTL)
			if err != nil {
				s.logger.WithError(err).Warn("stale claim sweep failed")
				continue
			}
			if released > 0 {
				s.logger.WithField("count", released).Warn("released stale claims")
			}
		}
	}
}

func (s *Scheduler) timeoutFor(kind models.JobKind) time.Duration {
	if d, ok := s.cfg.Timeouts[kind]; ok && d > 0 {
		return d
	}
	return s.cfg.DefaultTimeout
}

func (s *Scheduler) publish(job *models.JobDefinition, record *models.JobExecution, detail *string) {
	s.hub.Publish(models.LifecycleEvent{
		JobID:       job.ID,
		JobName:     job.Name,
		Kind:        job.Kind,
		Status:      record.Status,
		Attempt:     record.Attempt,
		Timestamp:   time.Now(),
		ErrorDetail: detail,
	})
}

func (s *Scheduler) releaseAfterClaimFailure(job models.JobDefinition) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.ReleaseJob(ctx, job.ID, nil); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Error("failed to release claim after abort")
	}
}
