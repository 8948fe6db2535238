package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"cronfire/internal/broker"
	"cronfire/internal/models"
)

// MessagePublishExecutor publishes the stored message to the stored topic.
// A failed publish acknowledgement maps to failure.
type MessagePublishExecutor struct {
	broker broker.MessageBroker
}

func NewMessagePublishExecutor(b broker.MessageBroker) *MessagePublishExecutor {
	return &MessagePublishExecutor{broker: b}
}

func (e *MessagePublishExecutor) Kind() models.JobKind {
	return models.KindPublish
}

func (e *MessagePublishExecutor) Execute(ctx context.Context, payload json.RawMessage) error {
	var p models.PublishPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode publish payload: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.broker.Publish(p.Topic, []byte(p.Message)); err != nil {
		return fmt.Errorf("publish to %s: %w", p.Topic, err)
	}
	return nil
}
