package memstore

import (
	"context"
	"time"

	"coursemail/internal/model"
	"coursemail/internal/quota"
)

// memTx buffers writes until the transaction function returns nil.
type memTx struct {
	s        *Store
	counters map[counterKey]int
	logs     []model.EmailLog
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx quota.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s, counters: make(map[counterKey]int)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for k, v := range tx.counters {
		s.counters[k] = v
	}
	s.logs = append(s.logs, tx.logs...)
	return nil
}

func (t *memTx) Count(ctx context.Context, scope model.QuotaScope, key string, day time.Time) (int, error) {
	k := counterKey{scope: scope, key: key, day: model.DayOf(day)}
	if v, ok := t.counters[k]; ok {
		return v, nil
	}
	return t.s.counters[k], nil
}

func (t *memTx) LastSentAt(ctx context.Context, userID string, since time.Time) (time.Time, bool, error) {
	var last time.Time
	found := false
	check := func(l model.EmailLog) {
		if l.UserID == userID && l.SentAt.After(since) && (!found || l.SentAt.After(last)) {
			last = l.SentAt
			found = true
		}
	}
	for _, l := range t.s.logs {
		check(l)
	}
	for _, l := range t.logs {
		check(l)
	}
	return last, found, nil
}

func (t *memTx) Increment(ctx context.Context, scope model.QuotaScope, key string, day time.Time) (int, error) {
	current, _ := t.Count(ctx, scope, key, day)
	k := counterKey{scope: scope, key: key, day: model.DayOf(day)}
	t.counters[k] = current + 1
	return current + 1, nil
}

func (t *memTx) AppendLog(ctx context.Context, entry *model.EmailLog) error {
	t.logs = append(t.logs, *entry)
	return nil
}

// Counter reads a committed counter value.
func (s *Store) Counter(scope model.QuotaScope, key string, day time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[counterKey{scope: scope, key: key, day: model.DayOf(day)}]
}

// Logs returns a copy of the committed email logs.
func (s *Store) Logs() []model.EmailLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EmailLog, len(s.logs))
	copy(out, s.logs)
	return out
}
