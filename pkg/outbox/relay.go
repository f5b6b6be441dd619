package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coursemail/pkg/trace"

	"go.uber.org/zap"
)

type eventStore interface {
	GetPendingEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// Relay reads pending outbox events and publishes them to MQ.
type Relay struct {
	store      eventStore
	publisher  Publisher
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
	retention  time.Duration
}

func NewRelay(store eventStore, publisher Publisher, logger *zap.Logger) *Relay {
	return &Relay{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		maxRetries: 5,
		interval:   time.Second,
		batchSize:  100,
		retention:  24 * time.Hour,
	}
}

func (r *Relay) WithMaxRetries(maxRetries int) *Relay {
	r.maxRetries = maxRetries
	return r
}

func (r *Relay) WithInterval(interval time.Duration) *Relay {
	if interval > 0 {
		r.interval = interval
	}
	return r
}

func (r *Relay) WithBatchSize(batchSize int) *Relay {
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	return r
}

// Start blocks until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	r.logger.Info("Starting outbox relay",
		zap.Int("max_retries", r.maxRetries),
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	pruneTicker := time.NewTicker(time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				r.logger.Error("Failed to get pending events", zap.Error(err))
			}
		case <-pruneTicker.C:
			n, err := r.store.Prune(ctx, time.Now().Add(-r.retention))
			if err != nil {
				r.logger.Warn("Failed to prune outbox", zap.Error(err))
			} else if n > 0 {
				r.logger.Info("Pruned sent outbox events", zap.Int64("count", n))
			}
		}
	}
}

// Flush publishes one batch and returns how many events went out.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.GetPendingEvents(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range events {
		log := r.logger.With(
			zap.Int64("event_id", event.ID),
			zap.String("routing_key", event.RoutingKey),
		)
		if err := r.publish(ctx, event); err != nil {
			log.Error("Failed to publish event", zap.Int("retry_count", event.RetryCount), zap.Error(err))
			if err := r.store.MarkAsFailed(ctx, event.ID, r.maxRetries); err != nil {
				log.Error("Failed to mark event as failed", zap.Error(err))
			}
			continue
		}
		published++
		if err := r.store.MarkAsSent(ctx, event.ID); err != nil {
			log.Error("Failed to mark event as sent", zap.Error(err))
		}
	}
	return published, nil
}

func (r *Relay) publish(ctx context.Context, event *Event) error {
	var payload any
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if event.TraceID != "" {
		ctx = trace.WithContext(ctx, event.TraceID)
	}
	if err := r.publisher.PublishWithContext(ctx, event.RoutingKey, payload); err != nil {
		return fmt.Errorf("failed to publish to MQ: %w", err)
	}
	return nil
}
