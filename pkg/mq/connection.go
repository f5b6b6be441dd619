package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the topic exchange every email pipeline event is published to.
const ExchangeName = "events"

// dialAttempts and dialBackoff cover a broker that starts after the service.
var (
	dialAttempts = 4
	dialBackoff  = 500 * time.Millisecond
	dial         = amqp091.Dial
)

// NewConnection dials RabbitMQ, retrying with doubling backoff.
func NewConnection(url string) (*amqp091.Connection, error) {
	var lastErr error
	delay := dialBackoff
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err := dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt < dialAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", dialAttempts, lastErr)
}

// DeclareExchange declares the durable events topic exchange.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName,
		amqp091.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
}
