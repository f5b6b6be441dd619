package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursemail/pkg/metrics"
	"coursemail/pkg/trace"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, body []byte) error

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	tag        string
	handler    MessageHandler
	conn       *amqp091.Connection
	logger     *zap.Logger
	// deadLetter is swapped in tests.
	deadLetter func(ctx context.Context, routingKey string, msg amqp091.Publishing) error
}

// NewConsumer creates a consumer for a specific routing key, with a DLQ bound
// for the same key.
func NewConsumer(url, queueName, routingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(format string, err error) (*Consumer, error) {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf(format, err)
	}

	if err := DeclareExchange(ch); err != nil {
		return fail("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch); err != nil {
		return fail("failed to declare DLQ exchange: %w", err)
	}
	if _, err := DeclareDLQQueue(ch, routingKey); err != nil {
		return fail("%w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fail("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		routingKey,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fail("failed to bind queue: %w", err)
	}

	if err := ch.Qos(10, 0, false); err != nil {
		return fail("failed to set qos: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	c := &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		tag:        queueName + "-consumer",
		logger:     logger,
	}
	c.deadLetter = func(ctx context.Context, routingKey string, msg amqp091.Publishing) error {
		return publishToDLQ(ctx, c.channel, routingKey, msg)
	}
	return c, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// Stop cancels the subscription. StartConsuming returns once in-flight
// deliveries are drained.
func (c *Consumer) Stop() {
	if c.channel != nil {
		if err := c.channel.Cancel(c.tag, false); err != nil {
			c.logger.Warn("Failed to cancel consumer", zap.String("queue", c.queue.Name), zap.Error(err))
		}
	}
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming blocks until the subscription is cancelled or ctx is done.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.tag,
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				c.logger.Info("Consumer delivery channel closed", zap.String("queue", c.queue.Name))
				return nil
			}
			c.handleDelivery(ctx, msg)
		}
	}
}

// handleDelivery guarantees every delivery is acked, nacked or dead-lettered.
func (c *Consumer) handleDelivery(ctx context.Context, msg amqp091.Delivery) {
	start := time.Now()
	defer func() {
		metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, time.Since(start))
	}()

	if traceID, ok := msg.Headers[trace.HeaderName].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	} else {
		ctx, _ = trace.Ensure(ctx)
	}
	log := c.logger.With(
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
		zap.String("trace_id", trace.FromContext(ctx)),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panic recovered", zap.Any("panic", r))
			c.deadLetterOrRequeue(ctx, log, msg, fmt.Sprintf("panic: %v", r))
		}
	}()

	err := c.handler(ctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			log.Error("Failed to ack message", zap.Error(ackErr))
		}
	case errors.Is(err, ErrPoisonMessage):
		log.Warn("Poison message, moving to DLQ", zap.Error(err))
		c.toDLQ(ctx, log, msg, err.Error())
	case msg.Redelivered:
		log.Error("Handler failed on redelivery, moving to DLQ", zap.Error(err))
		c.toDLQ(ctx, log, msg, err.Error())
	default:
		log.Error("Handler error, requeueing", zap.Error(err))
		if nackErr := msg.Nack(false, true); nackErr != nil {
			log.Error("Failed to nack message", zap.Error(nackErr))
		}
	}
}

func (c *Consumer) deadLetterOrRequeue(ctx context.Context, log *zap.Logger, msg amqp091.Delivery, reason string) {
	if msg.Redelivered {
		c.toDLQ(ctx, log, msg, reason)
		return
	}
	if err := msg.Nack(false, true); err != nil {
		log.Error("Failed to nack message", zap.Error(err))
	}
}

func (c *Consumer) toDLQ(ctx context.Context, log *zap.Logger, msg amqp091.Delivery, reason string) {
	if err := c.deadLetter(ctx, c.routingKey, dlqMessage(msg, reason, c.tag)); err != nil {
		log.Error("Failed to publish to DLQ, requeueing", zap.Error(err))
		if nackErr := msg.Nack(false, true); nackErr != nil {
			log.Error("Failed to nack message", zap.Error(nackErr))
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack dead-lettered message", zap.Error(err))
	}
}
