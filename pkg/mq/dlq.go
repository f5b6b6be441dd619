package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	DLQExchangeName = "events.dlq"
)

// ErrPoisonMessage marks a message that can never be handled, such as an
// undecodable body. The consumer moves it to the DLQ instead of requeueing.
var ErrPoisonMessage = errors.New("poison message")

// DeclareDLQExchange declares the dead letter exchange.
func DeclareDLQExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		DLQExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// DeclareDLQQueue declares a dead letter queue for a specific routing key.
func DeclareDLQQueue(ch *amqp091.Channel, routingKey string) (amqp091.Queue, error) {
	queueName := fmt.Sprintf("%s.dlq", routingKey)

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		routingKey,
		DLQExchangeName,
		false,
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}

	return q, nil
}

// dlqMessage copies the original body and headers and records why it was dead-lettered.
func dlqMessage(d amqp091.Delivery, reason, consumer string) amqp091.Publishing {
	headers := amqp091.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-original-error"] = reason
	headers["x-failed-at"] = consumer
	headers["x-failed-time"] = time.Now().UTC().Format(time.RFC3339)

	return amqp091.Publishing{
		ContentType:  d.ContentType,
		Body:         d.Body,
		DeliveryMode: amqp091.Persistent,
		Headers:      headers,
	}
}

func publishToDLQ(ctx context.Context, ch *amqp091.Channel, routingKey string, msg amqp091.Publishing) error {
	return ch.PublishWithContext(ctx,
		DLQExchangeName,
		routingKey,
		false,
		false,
		msg,
	)
}
