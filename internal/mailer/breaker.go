package mailer

import (
	"context"
	"errors"

	"coursemail/internal/model"
	"coursemail/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// BreakerSender stops dialing the SMTP server after repeated failures.
// Rejections while open are reported as transport errors.
type BreakerSender struct {
	next    Sender
	breaker *circuitbreaker.CircuitBreaker
}

func NewBreakerSender(next Sender, cfg circuitbreaker.Config, logger *zap.Logger) *BreakerSender {
	cb := circuitbreaker.NewCircuitBreaker(cfg).OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warn("Mail transport circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	})
	return &BreakerSender{next: next, breaker: cb}
}

func (s *BreakerSender) Send(ctx context.Context, msg Message) error {
	err := s.breaker.Execute(func() error {
		return s.next.Send(ctx, msg)
	})
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return &model.TransportError{Err: err}
	}
	return err
}

func (s *BreakerSender) State() circuitbreaker.State {
	return s.breaker.GetState()
}
