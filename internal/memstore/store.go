// Package memstore keeps email jobs, quota counters and email logs in memory.
// Claims are a compare-and-swap on status under one mutex, which gives the same
// at-most-once guarantee as SKIP LOCKED on Postgres.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"coursemail/internal/model"
)

type counterKey struct {
	scope model.QuotaScope
	key   string
	day   time.Time
}

type Store struct {
	mu       sync.Mutex
	jobs     map[string]*model.EmailJob
	counters map[counterKey]int
	logs     []model.EmailLog
	now      func() time.Time
}

func New() *Store {
	return &Store{
		jobs:     make(map[string]*model.EmailJob),
		counters: make(map[counterKey]int),
		now:      time.Now,
	}
}

// WithClock replaces the clock used for updated_at stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func copyJob(j *model.EmailJob) *model.EmailJob {
	c := *j
	if j.LastError != nil {
		msg := *j.LastError
		c.LastError = &msg
	}
	return &c
}

func (s *Store) Insert(ctx context.Context, jobs ...*model.EmailJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range jobs {
		s.jobs[j.ID] = copyJob(j)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return copyJob(j), nil
}

// Jobs returns a snapshot of every job ordered by creation time.
func (s *Store) Jobs() []*model.EmailJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.EmailJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, copyJob(j))
	}
	sortByCreated(out)
	return out
}

func sortByCreated(jobs []*model.EmailJob) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
}

func eligible(j *model.EmailJob, now time.Time) bool {
	return j.Status == model.JobStatusQueued && !j.NextRunAt.After(now)
}

func (s *Store) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*model.EmailJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*model.EmailJob, 0)
	for _, j := range s.jobs {
		if eligible(j, now) {
			due = append(due, j)
		}
	}
	sortByCreated(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*model.EmailJob, 0, len(due))
	for _, j := range due {
		j.Status = model.JobStatusProcessing
		j.UpdatedAt = s.now().UTC()
		claimed = append(claimed, copyJob(j))
	}
	return claimed, nil
}

func (s *Store) ClaimByID(ctx context.Context, id string, now time.Time) (*model.EmailJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !eligible(j, now) {
		return nil, nil
	}
	j.Status = model.JobStatusProcessing
	j.UpdatedAt = s.now().UTC()
	return copyJob(j), nil
}

func (s *Store) processing(id string) (*model.EmailJob, error) {
	j, ok := s.jobs[id]
	if !ok || j.Status != model.JobStatusProcessing {
		return nil, model.ErrJobNotFound
	}
	return j, nil
}

func (s *Store) MarkSent(ctx context.Context, id string, note *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.processing(id)
	if err != nil {
		return err
	}
	j.Status = model.JobStatusSent
	j.LastError = note
	j.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) Reschedule(ctx context.Context, id string, attempts int, nextRunAt time.Time, lastError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.processing(id)
	if err != nil {
		return err
	}
	j.Status = model.JobStatusQueued
	j.Attempts = attempts
	j.NextRunAt = nextRunAt.UTC()
	j.LastError = &lastError
	j.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, attempts int, lastError string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.processing(id)
	if err != nil {
		return err
	}
	j.Status = model.JobStatusFailed
	j.Attempts = attempts
	j.NextRunAt = at.UTC()
	j.LastError = &lastError
	j.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) Release(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.processing(id)
	if err != nil {
		return err
	}
	j.Status = model.JobStatusQueued
	j.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) RecoverStale(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := s.now().UTC()
	for _, j := range s.jobs {
		if j.Status != model.JobStatusProcessing || !j.UpdatedAt.Before(olderThan) {
			continue
		}
		j.Attempts++
		if j.Attempts >= j.MaxAttempts {
			j.Status = model.JobStatusFailed
		} else {
			j.Status = model.JobStatusQueued
		}
		msg := reason
		j.LastError = &msg
		j.NextRunAt = now
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *Store) ResetFailed(ctx context.Context, id string, now time.Time) (*model.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	if j.Status != model.JobStatusFailed {
		return nil, model.ErrJobNotFailed
	}
	j.Status = model.JobStatusQueued
	j.Attempts = 0
	j.NextRunAt = now.UTC()
	j.UpdatedAt = now.UTC()
	return copyJob(j), nil
}
