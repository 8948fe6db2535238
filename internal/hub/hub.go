// Package hub fans execution lifecycle events out to connected observers.
// Delivery is best effort: observers connected at publish time get the
// event, nobody gets a replay. Durable history lives in the execution
// records.
package hub

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"cronfire/internal/models"
)

const (
	// DefaultBusSize buffers the internal bus so the scheduler never blocks
	// on a slow fan-out.
	DefaultBusSize = 1024

	// DefaultObserverBuffer is the per-observer queue. When it fills, events
	// for that observer are dropped.
	DefaultObserverBuffer = 64
)

type NotificationHub struct {
	logger *logrus.Logger

	events chan models.LifecycleEvent

	mu        sync.RWMutex
	observers map[string]chan models.LifecycleEvent

	observerBuffer int
}

func New(logger *logrus.Logger) *NotificationHub {
	return &NotificationHub{
		logger:         logger,
		events:         make(chan models.LifecycleEvent, DefaultBusSize),
		observers:      make(map[string]chan models.LifecycleEvent),
		observerBuffer: DefaultObserverBuffer,
	}
}

// Publish puts an event on the internal bus. It never blocks; when the bus
// is full the event is dropped and counted against the log.
func (h *NotificationHub) Publish(event models.LifecycleEvent) {
	select {
	case h.events <- event:
	default:
		h.logger.WithField("job_id", event.JobID).Warn("event bus full, dropping lifecycle event")
	}
}

// Subscribe registers an observer under its connection token and returns
// its event channel. A second Subscribe with the same token replaces the
// first.
func (h *NotificationHub) Subscribe(token string) <-chan models.LifecycleEvent {
	ch := make(chan models.LifecycleEvent, h.observerBuffer)

	h.mu.Lock()
	if old, ok := h.observers[token]; ok {
		close(old)
	}
	h.observers[token] = ch
	h.mu.Unlock()

	h.logger.WithField("observer", token).Debug("observer subscribed")
	return ch
}

// Unsubscribe removes the observer and closes its channel.
func (h *NotificationHub) Unsubscribe(token string) {
	h.mu.Lock()
	if ch, ok := h.observers[token]; ok {
		delete(h.observers, token)
		close(ch)
	}
	h.mu.Unlock()

	h.logger.WithField("observer", token).Debug("observer unsubscribed")
}

// ObserverCount returns how many observers are currently connected.
func (h *NotificationHub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Run drains the bus and fans each event out to every connected observer.
// Events for one job leave the bus in transition order, so each observer
// sees them in order too. Returns when ctx is cancelled.
func (h *NotificationHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event := <-h.events:
			h.fanOut(event)
		}
	}
}

func (h *NotificationHub) fanOut(event models.LifecycleEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for token, ch := range h.observers {
		select {
		case ch <- event:
		default:
			h.logger.WithFields(logrus.Fields{
				"observer": token,
				"job_id":   event.JobID,
			}).Warn("observer buffer full, dropping event")
		}
	}
}

func (h *NotificationHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for token, ch := range h.observers {
		delete(h.observers, token)
		close(ch)
	}
}
