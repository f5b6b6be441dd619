package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	contractmq "coursemail/contracts/mq"
	"coursemail/internal/dispatch"
	"coursemail/pkg/logger"
	"coursemail/pkg/mq"

	"go.uber.org/zap"
)

// JobProcessor dispatches a single job by id.
type JobProcessor interface {
	ProcessJob(ctx context.Context, id string) (dispatch.Result, error)
}

// EmailJobDispatchHandler consumes email.job.enqueued and dispatches the named job.
// Duplicate or late messages are harmless: a job that is no longer QUEUED and
// due is skipped by the claim.
type EmailJobDispatchHandler struct {
	processor JobProcessor
	logger    *zap.Logger
}

func NewEmailJobDispatchHandler(processor JobProcessor, logger *zap.Logger) *EmailJobDispatchHandler {
	return &EmailJobDispatchHandler{
		processor: processor,
		logger:    logger,
	}
}

func (h *EmailJobDispatchHandler) Handle(ctx context.Context, body []byte) error {
	log := logger.WithTrace(ctx, h.logger)

	var p contractmq.EmailJobEnqueuedPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("%w: decode payload: %v", mq.ErrPoisonMessage, err)
	}
	if p.JobID == "" {
		return fmt.Errorf("%w: missing job_id", mq.ErrPoisonMessage)
	}

	res, err := h.processor.ProcessJob(ctx, p.JobID)
	if err != nil {
		log.Error("Failed to dispatch email job", zap.String("job_id", p.JobID), zap.Error(err))
		return err
	}

	log.Debug("Email job trigger handled",
		zap.String("job_id", p.JobID),
		zap.Int("processed", res.Processed),
		zap.Int("sent", res.Sent),
	)
	return nil
}
