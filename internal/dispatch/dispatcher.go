// Package dispatch claims due email jobs, sends them and records the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursemail/internal/mailer"
	"coursemail/internal/model"
	"coursemail/internal/retry"
	"coursemail/pkg/metrics"

	"go.uber.org/zap"
)

const staleReason = "processing timed out"

// JobStore is the queue side of the dispatcher. Every transition out of
// PROCESSING must fail with model.ErrJobNotFound when the job is no longer
// PROCESSING.
type JobStore interface {
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]*model.EmailJob, error)
	ClaimByID(ctx context.Context, id string, now time.Time) (*model.EmailJob, error)
	MarkSent(ctx context.Context, id string, note *string) error
	Reschedule(ctx context.Context, id string, attempts int, nextRunAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, attempts int, lastError string, at time.Time) error
	RecoverStale(ctx context.Context, olderThan time.Time, reason string) (int64, error)
	// Release returns a claimed job to QUEUED without touching attempts.
	Release(ctx context.Context, id string) error
}

type QuotaLedger interface {
	Check(ctx context.Context, userID string, isAdmin bool) error
	Consume(ctx context.Context, userID, email string, typ model.EmailType, isAdmin bool) error
}

// Result summarizes one dispatch invocation.
type Result struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Requeued  int `json:"requeued"`
	// Released counts claimed jobs handed back unprocessed after cancellation.
	Released int `json:"released,omitempty"`
}

func (r *Result) add(o outcome) {
	r.Processed++
	switch o {
	case outcomeSent:
		r.Sent++
	case outcomeFailed:
		r.Failed++
	case outcomeRequeued:
		r.Requeued++
	}
}

type outcome string

const (
	outcomeSent     outcome = "sent"
	outcomeFailed   outcome = "failed"
	outcomeRequeued outcome = "requeued"
	// The job left PROCESSING behind our back; nothing was recorded.
	outcomeLost outcome = "lost"
)

type Dispatcher struct {
	store      JobStore
	ledger     QuotaLedger
	sender     mailer.Sender
	policy     retry.Policy
	logger     *zap.Logger
	now        func() time.Time
	batchSize  int
	interval   time.Duration
	staleAfter time.Duration
	jobTimeout time.Duration
}

func NewDispatcher(store JobStore, ledger QuotaLedger, sender mailer.Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		ledger:     ledger,
		sender:     sender,
		policy:     retry.DefaultPolicy(),
		logger:     logger,
		now:        time.Now,
		batchSize:  20,
		interval:   5 * time.Second,
		staleAfter: 10 * time.Minute,
		jobTimeout: 2 * time.Minute,
	}
}

func (d *Dispatcher) WithPolicy(p retry.Policy) *Dispatcher {
	d.policy = p
	return d
}

func (d *Dispatcher) WithBatchSize(n int) *Dispatcher {
	d.batchSize = n
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

// WithStaleAfter sets how long a job may stay PROCESSING before the sweep
// recovers it. Zero disables recovery.
func (d *Dispatcher) WithStaleAfter(after time.Duration) *Dispatcher {
	d.staleAfter = after
	return d
}

// WithJobTimeout bounds the work on one claimed job. The bound is independent
// of the caller's context so a started send is always recorded.
func (d *Dispatcher) WithJobTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.jobTimeout = timeout
	}
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

func (d *Dispatcher) BatchSize() int {
	return d.batchSize
}

// Start runs the sweep on a ticker until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting email dispatcher",
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
		zap.Duration("stale_after", d.staleAfter),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Email dispatcher stopped")
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Dispatcher) sweep(ctx context.Context) {
	if _, err := d.RecoverStale(ctx); err != nil {
		d.logger.Error("Failed to recover stale email jobs", zap.Error(err))
	}
	res, err := d.ProcessJobs(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to process email jobs", zap.Error(err))
		return
	}
	if res.Processed > 0 {
		d.logger.Info("Processed email jobs",
			zap.Int("processed", res.Processed),
			zap.Int("sent", res.Sent),
			zap.Int("requeued", res.Requeued),
			zap.Int("failed", res.Failed),
		)
	}
}

// RecoverStale requeues jobs that have been PROCESSING longer than the stale window.
func (d *Dispatcher) RecoverStale(ctx context.Context) (int64, error) {
	if d.staleAfter <= 0 {
		return 0, nil
	}
	n, err := d.store.RecoverStale(ctx, d.now().UTC().Add(-d.staleAfter), staleReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.AddStaleRecovered(n)
		d.logger.Warn("Recovered stale email jobs", zap.Int64("count", n))
	}
	return n, nil
}

// ProcessJobs claims up to limit due jobs and dispatches them in claim order.
// Only a failed claim is returned as an error.
func (d *Dispatcher) ProcessJobs(ctx context.Context, limit int) (Result, error) {
	if limit <= 0 {
		limit = d.batchSize
	}
	jobs, err := d.store.ClaimDue(ctx, limit, d.now().UTC())
	if err != nil {
		return Result{}, fmt.Errorf("claim email jobs: %w", err)
	}
	metrics.ObserveClaimBatch(len(jobs))

	var res Result
	for i, job := range jobs {
		if ctx.Err() != nil {
			res.Released = d.release(ctx, jobs[i:])
			break
		}
		res.add(d.dispatch(ctx, job))
	}
	return res, nil
}

// release hands claimed but untouched jobs back to the queue once the caller
// has gone away, so they are not charged an attempt by stale recovery.
func (d *Dispatcher) release(ctx context.Context, jobs []*model.EmailJob) int {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.jobTimeout)
	defer cancel()

	released := 0
	for _, job := range jobs {
		if err := d.store.Release(ctx, job.ID); err != nil {
			d.logger.Error("Failed to release email job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		released++
	}
	d.logger.Info("Dispatch cancelled, released unprocessed email jobs", zap.Int("released", released))
	return released
}

// ProcessJob dispatches a single job if it is still QUEUED and due. Any other
// job is left untouched and the result is empty.
func (d *Dispatcher) ProcessJob(ctx context.Context, id string) (Result, error) {
	job, err := d.store.ClaimByID(ctx, id, d.now().UTC())
	if err != nil {
		return Result{}, fmt.Errorf("claim email job %s: %w", id, err)
	}
	var res Result
	if job == nil {
		d.logger.Debug("Email job not eligible, skipping", zap.String("job_id", id))
		return res, nil
	}
	res.add(d.dispatch(ctx, job))
	return res, nil
}

// dispatch runs on a context detached from the caller: once a job is claimed
// its send and the resulting transition must complete together.
func (d *Dispatcher) dispatch(parent context.Context, job *model.EmailJob) outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.jobTimeout)
	defer cancel()

	log := d.logger.With(
		zap.String("job_id", job.ID),
		zap.String("user_id", job.UserID),
		zap.String("type", string(job.Type)),
		zap.Int("attempts", job.Attempts),
	)

	var o outcome
	if !job.HasOwner() {
		o = d.fail(ctx, log, job, model.ErrMissingOwner)
	} else if err := d.ledger.Check(ctx, job.UserID, job.IsAdmin); err != nil {
		o = d.fail(ctx, log, job, err)
	} else if err := d.sender.Send(ctx, mailer.Message{
		JobID:   job.ID,
		Type:    job.Type,
		To:      job.Email,
		Subject: job.Subject,
		HTML:    job.HTML,
	}); err != nil {
		o = d.fail(ctx, log, job, err)
	} else {
		o = d.sent(ctx, log, job)
	}

	metrics.IncrementProcessed(string(o))
	return o
}

// sent records a delivered email. Whatever happens to the ledger write, the
// job ends SENT so the email is never delivered twice.
func (d *Dispatcher) sent(ctx context.Context, log *zap.Logger, job *model.EmailJob) outcome {
	var note *string
	if err := d.ledger.Consume(ctx, job.UserID, job.Email, job.Type, job.IsAdmin); err != nil {
		msg := "sent; " + err.Error()
		note = &msg
		if errors.Is(err, model.ErrQuotaOvershoot) {
			metrics.IncrementQuotaOvershoot()
			log.Warn("Email sent past quota", zap.Error(err))
		} else {
			log.Error("Email sent but quota could not be recorded", zap.Error(err))
		}
	}

	if err := d.store.MarkSent(ctx, job.ID, note); err != nil {
		log.Error("Failed to mark email job sent", zap.Error(err))
		return outcomeLost
	}
	log.Info("Email job sent")
	return outcomeSent
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, job *model.EmailJob, cause error) outcome {
	decision := d.policy.Decide(job, cause, d.now().UTC())
	log = log.With(
		zap.String("class", decision.Class.String()),
		zap.Int("next_attempts", decision.Attempts),
		zap.Error(cause),
	)

	if decision.Status == model.JobStatusFailed {
		if err := d.store.MarkFailed(ctx, job.ID, decision.Attempts, decision.LastError, decision.NextRunAt); err != nil {
			log.Error("Failed to mark email job failed", zap.NamedError("store_error", err))
			return outcomeLost
		}
		log.Warn("Email job failed permanently")
		return outcomeFailed
	}

	if err := d.store.Reschedule(ctx, job.ID, decision.Attempts, decision.NextRunAt, decision.LastError); err != nil {
		log.Error("Failed to reschedule email job", zap.NamedError("store_error", err))
		return outcomeLost
	}
	if decision.Class == retry.ClassCapacity {
		log.Info("Email job deferred by quota", zap.Time("next_run_at", decision.NextRunAt))
	} else {
		log.Warn("Email job send failed, will retry", zap.Time("next_run_at", decision.NextRunAt))
	}
	return outcomeRequeued
}
