package mqhandler

import (
	"context"

	contractmq "coursemail/contracts/mq"
)

type eventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// MQTrigger publishes email.job.enqueued for each committed job.
type MQTrigger struct {
	publisher eventPublisher
}

func NewMQTrigger(publisher eventPublisher) *MQTrigger {
	return &MQTrigger{publisher: publisher}
}

func (t *MQTrigger) JobEnqueued(ctx context.Context, jobID string) error {
	return t.publisher.PublishWithContext(ctx, contractmq.RoutingKeyEmailJobEnqueued, contractmq.EmailJobEnqueuedPayload{JobID: jobID})
}
