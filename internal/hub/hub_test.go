package hub

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronfire/internal/models"
	"cronfire/internal/state"
)

func newTestHub(t *testing.T) (*NotificationHub, context.CancelFunc) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := New(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func event(jobID string, status state.ExecutionStatus) models.LifecycleEvent {
	return models.LifecycleEvent{
		JobID:     jobID,
		JobName:   "test-job",
		Kind:      models.KindCallback,
		Status:    status,
		Attempt:   1,
		Timestamp: time.Now(),
	}
}

func receive(t *testing.T, ch <-chan models.LifecycleEvent) models.LifecycleEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.LifecycleEvent{}
	}
}

func TestHub_DeliversToConnectedObservers(t *testing.T) {
	h, _ := newTestHub(t)

	a := h.Subscribe("observer-a")
	b := h.Subscribe("observer-b")
	require.Equal(t, 2, h.ObserverCount())

	h.Publish(event("job-1", state.StatusRunning))

	assert.Equal(t, "job-1", receive(t, a).JobID)
	assert.Equal(t, "job-1", receive(t, b).JobID)
}

func TestHub_OrderPreservedPerJob(t *testing.T) {
	h, _ := newTestHub(t)
	ch := h.Subscribe("observer")

	h.Publish(event("job-1", state.StatusRunning))
	h.Publish(event("job-1", state.StatusRetrying))
	h.Publish(event("job-1", state.StatusFailed))

	assert.Equal(t, state.StatusRunning, receive(t, ch).Status)
	assert.Equal(t, state.StatusRetrying, receive(t, ch).Status)
	assert.Equal(t, state.StatusFailed, receive(t, ch).Status)
}

func TestHub_DisconnectedObserverMissesGap(t *testing.T) {
	h, _ := newTestHub(t)

	ch := h.Subscribe("observer")
	h.Publish(event("job-1", state.StatusRunning))
	receive(t, ch)

	h.Unsubscribe("observer")
	h.Publish(event("job-1", state.StatusSucceeded))

	// Give the fan-out loop time to process the gap event.
	time.Sleep(50 * time.Millisecond)

	reconnected := h.Subscribe("observer")
	h.Publish(event("job-2", state.StatusRunning))

	got := receive(t, reconnected)
	assert.Equal(t, "job-2", got.JobID, "observer must only see events emitted after reconnection")
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h, _ := newTestHub(t)

	ch := h.Subscribe("observer")
	h.Unsubscribe("observer")

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.ObserverCount())
}

func TestHub_SlowObserverDoesNotBlockOthers(t *testing.T) {
	h, _ := newTestHub(t)

	_ = h.Subscribe("slow") // never drained
	fast := h.Subscribe("fast")

	// Overflow the slow observer's buffer.
	for i := 0; i < DefaultObserverBuffer+10; i++ {
		h.Publish(event("job-1", state.StatusRunning))
	}
	h.Publish(event("job-2", state.StatusSucceeded))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-fast:
			if e.JobID == "job-2" {
				return
			}
		case <-deadline:
			t.Fatal("fast observer starved by slow observer")
		}
	}
}

func TestHub_RunShutdownClosesObservers(t *testing.T) {
	h, cancel := newTestHub(t)
	ch := h.Subscribe("observer")

	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("observer channel not closed on shutdown")
	}
}
