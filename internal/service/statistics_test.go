package service

import (
	"context"
	"testing"
	"time"

	"coursemail/internal/memstore"
	"coursemail/internal/model"
	"coursemail/internal/quota"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seedSends(t *testing.T, store *memstore.Store, at time.Time, users ...string) {
	t.Helper()
	ledger := quota.NewLedger(store, quota.Limits{UserDaily: 100, SystemDaily: 1000}, zap.NewNop()).
		WithClock(func() time.Time { return at })
	for _, u := range users {
		require.NoError(t, ledger.Consume(context.Background(), u, u+"@example.com", model.EmailTypeGeneric, false))
	}
}

func TestGetEmailStatistics(t *testing.T) {
	store := memstore.New()
	seedSends(t, store, testNow.AddDate(0, 0, -1), "u1", "u2")
	seedSends(t, store, testNow, "u1", "u1", "u2", "u3")

	limits := quota.Limits{UserDaily: 5, SystemDaily: 30}
	svc := NewStatisticsService(store, nil, limits, 30*time.Second, zap.NewNop()).
		WithClock(func() time.Time { return testNow }).
		WithSizes(2, 3)

	stats, err := svc.GetEmailStatistics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.SystemQuota.Today)
	assert.Equal(t, 2, stats.SystemQuota.Yesterday)
	assert.Equal(t, 30, stats.SystemQuota.Limit)
	assert.Equal(t, 13.3, stats.SystemQuota.PercentageUsed)
	assert.Equal(t, 5, stats.UserLimit)
	assert.Equal(t, int64(6), stats.TotalEmails)
	assert.Equal(t, []model.UserUsage{{UserID: "u1", Count: 2}, {UserID: "u2", Count: 1}}, stats.TopUsers)
	assert.Len(t, stats.RecentEmails, 3)
	assert.Equal(t, "u3", stats.RecentEmails[0].UserID)
}

func TestGetEmailStatistics_ServedFromCache(t *testing.T) {
	store := memstore.New()
	seedSends(t, store, testNow, "u1")

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewStatisticsService(store, rdb, quota.DefaultLimits(), 30*time.Second, zap.NewNop()).
		WithClock(func() time.Time { return testNow })
	ctx := context.Background()

	first, err := svc.GetEmailStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.SystemQuota.Today)
	assert.True(t, mr.Exists(statsCacheKey))
	assert.Equal(t, 30*time.Second, mr.TTL(statsCacheKey))

	seedSends(t, store, testNow, "u2")
	cached, err := svc.GetEmailStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.SystemQuota.Today)

	mr.FastForward(31 * time.Second)
	fresh, err := svc.GetEmailStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.SystemQuota.Today)
}

func TestGetEmailStatistics_RedisDownFallsBack(t *testing.T) {
	store := memstore.New()
	seedSends(t, store, testNow, "u1")

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	mr.Close()

	svc := NewStatisticsService(store, rdb, quota.DefaultLimits(), 30*time.Second, zap.NewNop()).
		WithClock(func() time.Time { return testNow })
	stats, err := svc.GetEmailStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SystemQuota.Today)
	assert.Equal(t, 1.0, stats.SystemQuota.PercentageUsed)
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0.0, percentage(0, 100))
	assert.Equal(t, 100.0, percentage(100, 100))
	assert.Equal(t, 33.3, percentage(1, 3))
	assert.Equal(t, 0.0, percentage(5, 0))
}
