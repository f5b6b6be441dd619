package mq

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"coursemail/pkg/trace"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAcker struct {
	acks    int
	nacks   int
	requeue bool
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.acks++
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

type dlqRecorder struct {
	msgs []amqp091.Publishing
	err  error
}

func (r *dlqRecorder) publish(ctx context.Context, routingKey string, msg amqp091.Publishing) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func newTestConsumer(h MessageHandler) (*Consumer, *dlqRecorder) {
	dlq := &dlqRecorder{}
	c := &Consumer{
		queue:      amqp091.Queue{Name: "test.queue"},
		routingKey: "email.job.enqueued",
		tag:        "test-consumer",
		handler:    h,
		logger:     zap.NewNop(),
		deadLetter: dlq.publish,
	}
	return c, dlq
}

func delivery(acker *fakeAcker, body string, redelivered bool) amqp091.Delivery {
	return amqp091.Delivery{
		Acknowledger: acker,
		DeliveryTag:  1,
		Body:         []byte(body),
		Redelivered:  redelivered,
		Headers:      amqp091.Table{trace.HeaderName: "trace-1"},
	}
}

func TestHandleDelivery_AckOnSuccessWithTrace(t *testing.T) {
	var gotTrace string
	c, dlq := newTestConsumer(func(ctx context.Context, body []byte) error {
		gotTrace = trace.FromContext(ctx)
		return nil
	})
	acker := &fakeAcker{}

	c.handleDelivery(context.Background(), delivery(acker, `{}`, false))

	assert.Equal(t, 1, acker.acks)
	assert.Zero(t, acker.nacks)
	assert.Equal(t, "trace-1", gotTrace)
	assert.Empty(t, dlq.msgs)
}

func TestHandleDelivery_PoisonGoesToDLQ(t *testing.T) {
	c, dlq := newTestConsumer(func(ctx context.Context, body []byte) error {
		return fmt.Errorf("%w: bad json", ErrPoisonMessage)
	})
	acker := &fakeAcker{}

	c.handleDelivery(context.Background(), delivery(acker, `not json`, false))

	assert.Equal(t, 1, acker.acks)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, []byte(`not json`), dlq.msgs[0].Body)
	assert.Contains(t, dlq.msgs[0].Headers["x-original-error"], "bad json")
	assert.Equal(t, "trace-1", dlq.msgs[0].Headers[trace.HeaderName])
}

func TestHandleDelivery_TransientErrorRequeuesOnce(t *testing.T) {
	c, dlq := newTestConsumer(func(ctx context.Context, body []byte) error {
		return errors.New("db unavailable")
	})

	first := &fakeAcker{}
	c.handleDelivery(context.Background(), delivery(first, `{}`, false))
	assert.Equal(t, 1, first.nacks)
	assert.True(t, first.requeue)
	assert.Empty(t, dlq.msgs)

	second := &fakeAcker{}
	c.handleDelivery(context.Background(), delivery(second, `{}`, true))
	assert.Equal(t, 1, second.acks)
	assert.Len(t, dlq.msgs, 1)
}

func TestHandleDelivery_PanicIsRecovered(t *testing.T) {
	c, _ := newTestConsumer(func(ctx context.Context, body []byte) error {
		panic("boom")
	})
	acker := &fakeAcker{}

	assert.NotPanics(t, func() {
		c.handleDelivery(context.Background(), delivery(acker, `{}`, false))
	})
	assert.Equal(t, 1, acker.nacks)
	assert.True(t, acker.requeue)
}

func TestHandleDelivery_DLQFailureRequeues(t *testing.T) {
	c, dlq := newTestConsumer(func(ctx context.Context, body []byte) error {
		return ErrPoisonMessage
	})
	dlq.err = errors.New("channel closed")
	acker := &fakeAcker{}

	c.handleDelivery(context.Background(), delivery(acker, `x`, false))
	assert.Zero(t, acker.acks)
	assert.Equal(t, 1, acker.nacks)
}

func TestNewPublishing(t *testing.T) {
	ctx := trace.WithContext(context.Background(), "abc")
	msg, err := NewPublishing(ctx, map[string]string{"job_id": "j1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"j1"}`, string(msg.Body))
	assert.Equal(t, "abc", msg.Headers[trace.HeaderName])
	assert.Equal(t, amqp091.Persistent, msg.DeliveryMode)

	_, err = NewPublishing(context.Background(), func() {})
	assert.Error(t, err)
}
