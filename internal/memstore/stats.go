package memstore

import (
	"context"
	"sort"
	"time"

	"coursemail/internal/model"
)

func (s *Store) CounterValue(ctx context.Context, scope model.QuotaScope, key string, day time.Time) (int, error) {
	return s.Counter(scope, key, day), nil
}

func (s *Store) TopUsers(ctx context.Context, day time.Time, limit int) ([]model.UserUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = model.DayOf(day)
	out := make([]model.UserUsage, 0)
	for k, v := range s.counters {
		if k.scope == model.QuotaScopeUser && k.day.Equal(day) {
			out = append(out, model.UserUsage{UserID: k.key, Count: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Count > out[j].Count
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RecentEmails(ctx context.Context, limit int) ([]model.EmailLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EmailLog, 0, limit)
	for i := len(s.logs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.logs[i])
	}
	return out, nil
}

func (s *Store) TotalEmails(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.logs)), nil
}
