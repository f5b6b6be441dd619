package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	contractmq "coursemail/contracts/mq"
	"coursemail/internal/model"
	"coursemail/pkg/outbox"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, type, COALESCE(user_id, ''), email, subject, html, is_admin, status,
       attempts, max_attempts, next_run_at, last_error, created_at, updated_at`

type JobRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

// WithOutbox makes Insert write one email.job.enqueued outbox event per job in
// the same transaction as the job rows.
func (r *JobRepository) WithOutbox(o *outbox.Repository) *JobRepository {
	r.outbox = o
	return r
}

func scanJob(row pgx.Row) (*model.EmailJob, error) {
	var j model.EmailJob
	err := row.Scan(
		&j.ID,
		&j.Type,
		&j.UserID,
		&j.Email,
		&j.Subject,
		&j.HTML,
		&j.IsAdmin,
		&j.Status,
		&j.Attempts,
		&j.MaxAttempts,
		&j.NextRunAt,
		&j.LastError,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*model.EmailJob, error) {
	defer rows.Close()
	jobs := []*model.EmailJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Insert persists all jobs in one transaction. Either every job is stored or none.
func (r *JobRepository) Insert(ctx context.Context, jobs ...*model.EmailJob) error {
	if len(jobs) == 0 {
		return nil
	}
	query := `
		INSERT INTO email_jobs (id, type, user_id, email, subject, html, is_admin, status,
		                        attempts, max_attempts, next_run_at, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, j := range jobs {
			batch.Queue(query,
				j.ID, j.Type, j.UserID, j.Email, j.Subject, j.HTML, j.IsAdmin, j.Status,
				j.Attempts, j.MaxAttempts, j.NextRunAt, j.CreatedAt, j.UpdatedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert email jobs: %w", err)
		}
		if r.outbox == nil {
			return nil
		}
		for _, j := range jobs {
			payload := contractmq.EmailJobEnqueuedPayload{JobID: j.ID}
			if err := r.outbox.InsertEvent(ctx, tx, contractmq.RoutingKeyEmailJobEnqueued, payload); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *JobRepository) Get(ctx context.Context, id string) (*model.EmailJob, error) {
	query := `SELECT ` + jobColumns + ` FROM email_jobs WHERE id = $1`
	j, err := scanJob(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email job: %w", err)
	}
	return j, nil
}

// ClaimDue moves up to limit due QUEUED jobs to PROCESSING. Rows locked by a
// concurrent claimer are skipped, so no job is returned to two callers.
func (r *JobRepository) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*model.EmailJob, error) {
	query := `
		UPDATE email_jobs
		SET status = 'PROCESSING', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM email_jobs
			WHERE status = 'QUEUED' AND next_run_at <= $1
			ORDER BY created_at ASC, id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim email jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING does not keep the subquery order.
	sort.SliceStable(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return jobs, nil
}

// ClaimByID claims a single job if it is QUEUED and due. It returns nil, nil otherwise.
func (r *JobRepository) ClaimByID(ctx context.Context, id string, now time.Time) (*model.EmailJob, error) {
	query := `
		UPDATE email_jobs
		SET status = 'PROCESSING', updated_at = NOW()
		WHERE id = (
			SELECT id FROM email_jobs
			WHERE id = $1 AND status = 'QUEUED' AND next_run_at <= $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	j, err := scanJob(r.db.QueryRow(ctx, query, id, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim email job: %w", err)
	}
	return j, nil
}

func (r *JobRepository) execProcessing(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) MarkSent(ctx context.Context, id string, note *string) error {
	query := `
		UPDATE email_jobs
		SET status = 'SENT', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	if err := r.execProcessing(ctx, query, id, note); err != nil {
		return fmt.Errorf("failed to mark email job sent: %w", err)
	}
	return nil
}

func (r *JobRepository) Reschedule(ctx context.Context, id string, attempts int, nextRunAt time.Time, lastError string) error {
	query := `
		UPDATE email_jobs
		SET status = 'QUEUED', attempts = $2, next_run_at = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	if err := r.execProcessing(ctx, query, id, attempts, nextRunAt, lastError); err != nil {
		return fmt.Errorf("failed to reschedule email job: %w", err)
	}
	return nil
}

// Release puts a claimed job back in the queue as it was before the claim.
func (r *JobRepository) Release(ctx context.Context, id string) error {
	query := `
		UPDATE email_jobs
		SET status = 'QUEUED', updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	if err := r.execProcessing(ctx, query, id); err != nil {
		return fmt.Errorf("failed to release email job: %w", err)
	}
	return nil
}

func (r *JobRepository) MarkFailed(ctx context.Context, id string, attempts int, lastError string, at time.Time) error {
	query := `
		UPDATE email_jobs
		SET status = 'FAILED', attempts = $2, last_error = $3, next_run_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	if err := r.execProcessing(ctx, query, id, attempts, lastError, at); err != nil {
		return fmt.Errorf("failed to mark email job failed: %w", err)
	}
	return nil
}

// RecoverStale returns jobs stuck in PROCESSING since before olderThan to the
// queue, charging one attempt. Jobs that run out of attempts become FAILED.
func (r *JobRepository) RecoverStale(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	query := `
		UPDATE email_jobs
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= max_attempts THEN 'FAILED' ELSE 'QUEUED' END,
		    last_error = $2,
		    next_run_at = NOW(),
		    updated_at = NOW()
		WHERE id IN (
			SELECT id FROM email_jobs
			WHERE status = 'PROCESSING' AND updated_at < $1
			FOR UPDATE SKIP LOCKED
		)
	`
	tag, err := r.db.Exec(ctx, query, olderThan, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale email jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetFailed puts a FAILED job back in the queue with a fresh attempt budget.
func (r *JobRepository) ResetFailed(ctx context.Context, id string, now time.Time) (*model.EmailJob, error) {
	var job *model.EmailJob
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var status model.JobStatus
		err := tx.QueryRow(ctx, `SELECT status FROM email_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if status != model.JobStatusFailed {
			return model.ErrJobNotFailed
		}

		query := `
			UPDATE email_jobs
			SET status = 'QUEUED', attempts = 0, next_run_at = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING ` + jobColumns
		job, err = scanJob(tx.QueryRow(ctx, query, id, now))
		return err
	})
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) || errors.Is(err, model.ErrJobNotFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to reset email job: %w", err)
	}
	return job, nil
}
