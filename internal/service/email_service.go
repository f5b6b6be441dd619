package service

import (
	"context"
	"fmt"
	"time"

	"coursemail/internal/mailer"
	"coursemail/internal/model"
	"coursemail/pkg/logger"
	"coursemail/pkg/metrics"

	"go.uber.org/zap"
)

// JobStore is the persistence EmailService needs.
type JobStore interface {
	Insert(ctx context.Context, jobs ...*model.EmailJob) error
	Get(ctx context.Context, id string) (*model.EmailJob, error)
	ResetFailed(ctx context.Context, id string, now time.Time) (*model.EmailJob, error)
}

// Trigger announces a committed job to the dispatcher.
type Trigger interface {
	JobEnqueued(ctx context.Context, jobID string) error
}

// Deduper maps an idempotency key to the job created for it.
type Deduper interface {
	AcquireOnce(ctx context.Context, key, value string) (string, bool)
	Release(ctx context.Context, key string)
}

type EmailService struct {
	store    JobStore
	trigger  Trigger
	renderer *mailer.Renderer
	deduper  Deduper
	logger   *zap.Logger
	now      func() time.Time
}

func NewEmailService(store JobStore, trigger Trigger, renderer *mailer.Renderer, logger *zap.Logger) *EmailService {
	return &EmailService{
		store:    store,
		trigger:  trigger,
		renderer: renderer,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *EmailService) WithDeduper(d Deduper) *EmailService {
	s.deduper = d
	return s
}

func (s *EmailService) WithClock(now func() time.Time) *EmailService {
	s.now = now
	return s
}

// Enqueue validates spec and persists it as a QUEUED job.
func (s *EmailService) Enqueue(ctx context.Context, spec model.JobSpec) (string, error) {
	ids, err := s.EnqueueBatch(ctx, []model.JobSpec{spec})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// EnqueueIdempotent is Enqueue keyed by a caller supplied idempotency key.
// A repeated key returns the job id of the first request without inserting.
func (s *EmailService) EnqueueIdempotent(ctx context.Context, key string, spec model.JobSpec) (string, bool, error) {
	if s.deduper == nil || key == "" {
		id, err := s.Enqueue(ctx, spec)
		return id, true, err
	}
	if err := spec.Validate(); err != nil {
		return "", false, err
	}

	job := model.NewEmailJob(spec, s.now())
	id, first := s.deduper.AcquireOnce(ctx, key, job.ID)
	if !first {
		return id, false, nil
	}
	if err := s.persist(ctx, []*model.EmailJob{job}); err != nil {
		s.deduper.Release(ctx, key)
		return "", false, err
	}
	return job.ID, true, nil
}

// EnqueueBatch persists all specs in one transaction. Nothing is stored when
// any spec is invalid. Triggers fire after the commit, one per job.
func (s *EmailService) EnqueueBatch(ctx context.Context, specs []model.JobSpec) ([]string, error) {
	if len(specs) == 0 {
		return nil, &model.ValidationError{Field: "jobs", Message: "at least one job is required"}
	}
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}

	now := s.now()
	jobs := make([]*model.EmailJob, len(specs))
	for i, spec := range specs {
		jobs[i] = model.NewEmailJob(spec, now)
	}
	if err := s.persist(ctx, jobs); err != nil {
		return nil, err
	}

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids, nil
}

func (s *EmailService) persist(ctx context.Context, jobs []*model.EmailJob) error {
	if err := s.store.Insert(ctx, jobs...); err != nil {
		return fmt.Errorf("failed to enqueue email jobs: %w", err)
	}

	log := logger.WithTrace(ctx, s.logger)
	for _, j := range jobs {
		metrics.IncrementEnqueued(string(j.Type))
		log.Info("Email job enqueued",
			zap.String("job_id", j.ID),
			zap.String("user_id", j.UserID),
			zap.String("type", string(j.Type)),
		)
		s.fire(ctx, log, j.ID)
	}
	return nil
}

// fire never fails the caller: the sweep picks up jobs whose trigger was lost.
func (s *EmailService) fire(ctx context.Context, log *zap.Logger, jobID string) {
	if s.trigger == nil {
		return
	}
	if err := s.trigger.JobEnqueued(ctx, jobID); err != nil {
		log.Warn("Failed to trigger dispatch, job left for the sweep",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
}

func (s *EmailService) GetJob(ctx context.Context, id string) (*model.EmailJob, error) {
	return s.store.Get(ctx, id)
}

// RetryFailed returns a FAILED job to the queue with a fresh attempt budget.
func (s *EmailService) RetryFailed(ctx context.Context, id string) (*model.EmailJob, error) {
	job, err := s.store.ResetFailed(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	log := logger.WithTrace(ctx, s.logger)
	log.Info("Failed email job requeued by admin", zap.String("job_id", id))
	s.fire(ctx, log, id)
	return job, nil
}
