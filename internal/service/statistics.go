package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"coursemail/internal/model"
	"coursemail/internal/quota"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const statsCacheKey = "email:statistics"

type StatsStore interface {
	CounterValue(ctx context.Context, scope model.QuotaScope, key string, day time.Time) (int, error)
	TopUsers(ctx context.Context, day time.Time, limit int) ([]model.UserUsage, error)
	RecentEmails(ctx context.Context, limit int) ([]model.EmailLog, error)
	TotalEmails(ctx context.Context) (int64, error)
}

type StatisticsService struct {
	store   StatsStore
	rdb     *redis.Client
	limits  quota.Limits
	ttl     time.Duration
	topN    int
	recentN int
	logger  *zap.Logger
	now     func() time.Time
}

// NewStatisticsService caches results in rdb for ttl. A nil rdb disables the cache.
func NewStatisticsService(store StatsStore, rdb *redis.Client, limits quota.Limits, ttl time.Duration, logger *zap.Logger) *StatisticsService {
	return &StatisticsService{
		store:   store,
		rdb:     rdb,
		limits:  limits,
		ttl:     ttl,
		topN:    10,
		recentN: 20,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *StatisticsService) WithSizes(topUsers, recentEmails int) *StatisticsService {
	s.topN = topUsers
	s.recentN = recentEmails
	return s
}

func (s *StatisticsService) WithClock(now func() time.Time) *StatisticsService {
	s.now = now
	return s
}

// GetEmailStatistics returns the quota dashboard, served from Redis when fresh.
// Cache failures fall back to the database.
func (s *StatisticsService) GetEmailStatistics(ctx context.Context) (*model.EmailStatistics, error) {
	if stats, ok := s.cached(ctx); ok {
		return stats, nil
	}

	stats, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		data, err := json.Marshal(stats)
		if err == nil {
			err = s.rdb.Set(ctx, statsCacheKey, data, s.ttl).Err()
		}
		if err != nil {
			s.logger.Warn("Failed to cache email statistics", zap.Error(err))
		}
	}
	return stats, nil
}

func (s *StatisticsService) cached(ctx context.Context) (*model.EmailStatistics, bool) {
	if s.rdb == nil {
		return nil, false
	}
	data, err := s.rdb.Get(ctx, statsCacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("Email statistics cache unavailable", zap.Error(err))
		return nil, false
	}
	var stats model.EmailStatistics
	if err := json.Unmarshal(data, &stats); err != nil {
		s.logger.Warn("Discarding corrupt email statistics cache entry", zap.Error(err))
		return nil, false
	}
	return &stats, true
}

func (s *StatisticsService) compute(ctx context.Context) (*model.EmailStatistics, error) {
	now := s.now().UTC()
	today := model.DayOf(now)
	yesterday := today.AddDate(0, 0, -1)

	todayCount, err := s.store.CounterValue(ctx, model.QuotaScopeGlobal, model.SystemQuotaKey, today)
	if err != nil {
		return nil, fmt.Errorf("read today's system quota: %w", err)
	}
	yesterdayCount, err := s.store.CounterValue(ctx, model.QuotaScopeGlobal, model.SystemQuotaKey, yesterday)
	if err != nil {
		return nil, fmt.Errorf("read yesterday's system quota: %w", err)
	}
	topUsers, err := s.store.TopUsers(ctx, today, s.topN)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.RecentEmails(ctx, s.recentN)
	if err != nil {
		return nil, err
	}
	total, err := s.store.TotalEmails(ctx)
	if err != nil {
		return nil, err
	}

	return &model.EmailStatistics{
		SystemQuota: model.SystemQuota{
			Today:          todayCount,
			Yesterday:      yesterdayCount,
			Limit:          s.limits.SystemDaily,
			PercentageUsed: percentage(todayCount, s.limits.SystemDaily),
		},
		TopUsers:     topUsers,
		RecentEmails: recent,
		TotalEmails:  total,
		UserLimit:    s.limits.UserDaily,
		GeneratedAt:  now,
	}, nil
}

// percentage is rounded to one decimal place.
func percentage(count, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Round(float64(count)/float64(limit)*1000) / 10
}
