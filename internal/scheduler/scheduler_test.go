package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronfire/internal/custom_errors"
	"cronfire/internal/executor"
	"cronfire/internal/hub"
	"cronfire/internal/mocks"
	"cronfire/internal/models"
	"cronfire/internal/state"
)

type stubExecutor struct {
	kind models.JobKind
	fn   func(ctx context.Context, payload json.RawMessage) error

	mu    sync.Mutex
	calls int
}

func (s *stubExecutor) Kind() models.JobKind { return s.kind }

func (s *stubExecutor) Execute(ctx context.Context, payload json.RawMessage) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx, payload)
	}
	return nil
}

func (s *stubExecutor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(instance string) Config {
	return Config{
		Instance:        instance,
		PollInterval:    20 * time.Millisecond,
		WorkerCount:     4,
		BatchSize:       50,
		MaxRetries:      0,
		DefaultTimeout:  time.Second,
		RetryBackoff:    10 * time.Millisecond,
		MaxRetryBackoff: 100 * time.Millisecond,
		ClaimTTL:        time.Minute,
	}
}

func newScheduler(store *mocks.MemoryJobStore, cfg Config, executors ...executor.Executor) (*Scheduler, *hub.NotificationHub) {
	h := hub.New(quietLogger())
	return New(store, executor.NewRegistry(executors...), h, quietLogger(), cfg), h
}

func callbackJob(id string, nextRunAt time.Time) *models.JobDefinition {
	return &models.JobDefinition{
		ID:         id,
		Name:       "job-" + id,
		Kind:       models.KindCallback,
		Expression: "* * * * *",
		Payload:    json.RawMessage(`{"url":"https://example.com/hook"}`),
		Enabled:    true,
		NextRunAt:  nextRunAt,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

func TestScheduler_RunsDueJobOnce(t *testing.T) {
	store := mocks.NewMemoryJobStore()
	before := time.Now().Add(-time.Second)
	job := callbackJob("job-1", before)
	require.NoError(t, store.CreateJob(context.Background(), job))

	exec := &stubExecutor{kind: models.KindCallback}
	s, _ := newScheduler(store, testConfig("instance-a"), exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		execs := store.Executions("job-1")
		return len(execs) == 1 && execs[0].Status == state.StatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	// The claim must be released and the schedule advanced past "now".
	require.Eventually(t, func() bool {
		got, err := store.GetJob(context.Background(), "job-1")
		return err == nil && got.ClaimedBy == nil && got.NextRunAt.After(before)
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, exec.Calls())
}

func TestScheduler_DisabledAndIgnoredStayIdle(t *testing.T) {
	store := mocks.NewMemoryJobStore()

	disabled := callbackJob("disabled", time.Now().Add(-time.Minute))
	disabled.Enabled = false
	require.NoError(t, store.CreateJob(context.Background(), disabled))

	ignored := callbackJob("ignored", time.Now().Add(-time.Minute))
	ignored.Ignored = true
	require.NoError(t, store.CreateJob(context.Background(), ignored))

	exec := &stubExecutor{kind: models.KindCallback}
	s, _ := newScheduler(store, testConfig("instance-a"), exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	time.Sleep(150 * time.Millisecond)

	assert.Empty(t, store.Executions("disabled"))
	assert.Empty(t, store.Executions("ignored"))
	assert.Equal(t, 0, exec.Calls())
}

func TestScheduler_RetryPolicyProducesExactAttempts(t *testing.T) {
	store := mocks.NewMemoryJobStore()
	job := callbackJob("flaky", time.Now().Add(-time.Second))
	require.NoError(t, store.CreateJob(context.Background(), job))

	exec := &stubExecutor{
		kind: models.KindCallback,
		fn: func(ctx context.Context, payload json.RawMessage) error {
			return errors.New("always fails")
		},
	}

	cfg := testConfig("instance-a")
	cfg.MaxRetries = 2
	s, _ := newScheduler(store, cfg, exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		return len(store.Executions("flaky")) == 3
	}, 3*time.Second, 10*time.Millisecond)

	// Let the final record close.
	require.Eventually(t, func() bool {
		execs := store.Executions("flaky")
		return execs[2].Status == state.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	execs := store.Executions("flaky")
	require.Len(t, execs, 3)
	assert.Equal(t, 1, execs[0].Attempt)
	assert.Equal(t, 2, execs[1].Attempt)
	assert.Equal(t, 3, execs[2].Attempt)
	assert.Equal(t, state.StatusRetrying, execs[0].Status)
	assert.Equal(t, state.StatusRetrying, execs[1].Status)
	assert.Equal(t, state.StatusFailed, execs[2].Status)
	require.NotNil(t, execs[2].ErrorDetail)

	// Backoff between attempts grows: second gap at least double the base.
	gap1 := execs[1].StartedAt.Sub(*execs[0].FinishedAt)
	gap2 := execs[2].StartedAt.Sub(*execs[1].FinishedAt)
	assert.GreaterOrEqual(t, gap1, 10*time.Millisecond)
	assert.GreaterOrEqual(t, gap2, 20*time.Millisecond)
}

func TestScheduler_SingleFlightUnderContention(t *testing.T) {
	store := mocks.NewMemoryJobStore()
	job := callbackJob("contended", time.Now().Add(-time.Second))
	require.NoError(t, store.CreateJob(context.Background(), job))

	var mu sync.Mutex
	running := 0
	maxRunning := 0
	exec := &stubExecutor{
		kind: models.KindCallback,
		fn: func(ctx context.Context, payload json.RawMessage) error {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()
			time.Sleep(50 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil
		},
	}

	// Two scheduler instances contending on the same store.
	s1, _ := newScheduler(store, testConfig("instance-a"), exec)
	s2, _ := newScheduler(store, testConfig("instance-b"), exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s1.Run(ctx)
	go s2.Run(ctx)

	require.Eventually(t, func() bool {
		return len(store.Executions("contended")) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxRunning, 1, "at most one execution may run at any instant")
}

func TestScheduler_ClaimRaceExactlyOneWinner(t *testing.T) {
	store := mocks.NewMemoryJobStore()
	job := callbackJob("raced", time.Now().Add(-time.Second))
	require.NoError(t, store.CreateJob(context.Background(), job))

	now := time.Now()
	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, instance := range []string{"instance-a", "instance-b"} {
		wg.Add(1)
		go func(instance string) {
			defer wg.Done()
			results <- store.ClaimJob(context.Background(), "raced", instance, now)
		}(instance)
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, custom_errors.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)
}

func TestScheduler_TriggerWhileRunningIsConflict(t *testing.T) {
	store := mocks.NewMemoryJobStore()
	job := callbackJob("busy", time.Now().Add(time.Hour))
	require.NoError(t, store.CreateJob(context.Background(), job))

	// Simulate an in-flight natural run.
	require.NoError(t, store.ClaimJob(context.Background(), "busy", "instance-a", time.Now()))

	exec := &stubExecutor{kind: models.KindCallback}
	s, _ := newScheduler(store, testConfig("instance-b"), exec)

	err := s.Trigger(context.Background(), "busy")
	require.Error(t, err)
	assert.True(t, errors.Is(err, custom_errors.ErrConflict))
	assert.Empty(t, store.Executions("busy"))
}

func TestScheduler_TriggerLeavesNextRunUntouched(t *testing.T) {
	store := mocks.NewMemoryJobStore()
	future := time.Now().Add(time.Hour).Truncate(time.Second)
	job := callbackJob("forced", future)
	require.NoError(t, store.CreateJob(context.Background(), job))

	exec := &stubExecutor{kind: models.KindCallback}
	s, _ := newScheduler(store, testConfig("instance-a"), exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.NoError(t, s.Trigger(context.Background(), "forced"))

	require.Eventually(t, func() bool {
		execs := store.Executions("forced")
		return len(execs) == 1 && execs[0].Status == state.StatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := store.GetJob(context.Background(), "forced")
		return err == nil && got.ClaimedBy == nil
	}, 2*time.Second, 10*time.Millisecond)

	got, err := store.GetJob(context.Background(), "forced")
	require.NoError(t, err)
	assert.True(t, got.NextRunAt.Equal(future), "forced trigger must not alter next_run_at")
}

func TestScheduler_TriggerUnknownJob(t *testing.T) {
	store := mocks.NewMemoryJobStore()
	exec := &stubExecutor{kind: models.KindCallback}
	s, _ := newScheduler(store, testConfig("instance-a"), exec)

	err := s.Trigger(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, custom_errors.ErrNotFound))
}

func TestScheduler_TimeoutIsFailure(t *testing.T) {
	store := mocks.NewMemoryJobStore()
	job := callbackJob("slow", time.Now().Add(-time.Second))
	require.NoError(t, store.CreateJob(context.Background(), job))

	exec := &stubExecutor{
		kind: models.KindCallback,
		fn: func(ctx context.Context, payload json.RawMessage) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	cfg := testConfig("instance-a")
	cfg.Timeouts = map[models.JobKind]time.Duration{models.KindCallback: 30 * time.Millisecond}
	s, _ := newScheduler(store, cfg, exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		execs := store.Executions("slow")
		return len(execs) == 1 && execs[0].Status == state.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	execs := store.Executions("slow")
	require.NotNil(t, execs[0].ErrorDetail)
	assert.Contains(t, *execs[0].ErrorDetail, "context deadline exceeded")
}

func TestScheduler_PublishesLifecycleEvents(t *testing.T) {
	store := mocks.NewMemoryJobStore()
	job := callbackJob("observed", time.Now().Add(-time.Second))
	require.NoError(t, store.CreateJob(context.Background(), job))

	exec := &stubExecutor{kind: models.KindCallback}
	s, h := newScheduler(store, testConfig("instance-a"), exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	ch := h.Subscribe("test-observer")

	go s.Run(ctx)

	var statuses []state.ExecutionStatus
	deadline := time.After(2 * time.Second)
	for len(statuses) < 2 {
		select {
		case e := <-ch:
			if e.JobID == "observed" {
				statuses = append(statuses, e.Status)
			}
		case <-deadline:
			t.Fatalf("timed out, got statuses %v", statuses)
		}
	}

	assert.Equal(t, state.StatusRunning, statuses[0])
	assert.Equal(t, state.StatusSucceeded, statuses[1])
}

func TestScheduler_StorageOutageDoesNotFailJobs(t *testing.T) {
	var mu sync.Mutex
	fetches := 0
	staleSweeps := 0

	store := &mocks.MockJobStore{
		FetchDueJobsFunc: func(ctx context.Context, now time.Time, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error) {
			mu.Lock()
			fetches++
			mu.Unlock()
			return nil, custom_errors.NewStorageUnavailableError("fetch due jobs", errors.New("connection refused"))
		},
		ReleaseStaleClaimsFunc: func(ctx context.Context, olderThan time.Duration) (int, error) {
			mu.Lock()
			staleSweeps++
			mu.Unlock()
			return 0, nil
		},
		AppendExecutionFunc: func(ctx context.Context, exec *models.JobExecution) error {
			t.Error("no execution may be recorded while storage is down")
			return nil
		},
	}

	exec := &stubExecutor{kind: models.KindCallback}
	h := hub.New(quietLogger())
	s := New(store, executor.NewRegistry(exec), h, quietLogger(), testConfig("instance-a"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// The loop keeps polling through the outage instead of stopping.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fetches >= 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, staleSweeps, 1, "stale claims are swept at startup")
	assert.Equal(t, 0, exec.Calls())
}

func TestScheduler_ExecutionRecordOutageReleasesClaim(t *testing.T) {
	var mu sync.Mutex
	storageDown := true
	appendAttempts := 0
	claimed := false
	var releases []*time.Time

	job := callbackJob("job-1", time.Now().Add(-time.Second))
	exec := &stubExecutor{kind: models.KindCallback}

	store := &mocks.MockJobStore{
		FetchDueJobsFunc: func(ctx context.Context, now time.Time, page, pageSize int) (*models.PaginationResult[models.JobDefinition], error) {
			mu.Lock()
			defer mu.Unlock()
			if claimed {
				return models.NewPaginationResult([]models.JobDefinition{}, 0, page, pageSize), nil
			}
			return models.NewPaginationResult([]models.JobDefinition{*job}, 1, page, pageSize), nil
		},
		ClaimJobFunc: func(ctx context.Context, id, claimedBy string, now time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			if claimed {
				return custom_errors.NewConflictError("already claimed")
			}
			claimed = true
			return nil
		},
		ReleaseJobFunc: func(ctx context.Context, id string, nextRunAt *time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			claimed = false
			releases = append(releases, nextRunAt)
			return nil
		},
		AppendExecutionFunc: func(ctx context.Context, rec *models.JobExecution) error {
			mu.Lock()
			defer mu.Unlock()
			appendAttempts++
			if storageDown {
				return custom_errors.NewStorageUnavailableError("AppendExecution", errors.New("connection refused"))
			}
			return nil
		},
	}

	h := hub.New(quietLogger())
	s := New(store, executor.NewRegistry(exec), h, quietLogger(), testConfig("instance-a"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// While the record cannot be opened the trigger is re-attempted on
	// later ticks, so the outage must not consume the retry budget.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return appendAttempts >= 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.NotEmpty(t, releases)
	for _, next := range releases {
		assert.Nil(t, next, "an outage release must leave NextRunAt untouched")
	}
	assert.Equal(t, 0, exec.Calls(), "the executor must not run without an open record")
	storageDown = false
	mu.Unlock()

	// Once storage heals the next tick runs the job normally and the
	// release finally advances the schedule.
	require.Eventually(t, func() bool {
		return exec.Calls() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(releases) > 0 && releases[len(releases)-1] != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetryDelay(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	assert.Equal(t, 100*time.Millisecond, retryDelay(base, max, 1))
	assert.Equal(t, 200*time.Millisecond, retryDelay(base, max, 2))
	assert.Equal(t, 400*time.Millisecond, retryDelay(base, max, 3))
	assert.Equal(t, time.Second, retryDelay(base, max, 10), "capped at max")
	assert.Equal(t, time.Duration(0), retryDelay(0, max, 3))
}
