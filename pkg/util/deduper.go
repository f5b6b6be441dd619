package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper remembers the first value stored under a key for ttl. It backs
// idempotent enqueue: the first request under an Idempotency-Key wins and
// later ones get the same job id back.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		prefix: prefix,
		logger: logger,
	}
}

func (d *Deduper) key(k string) string {
	return fmt.Sprintf("dedup:%s:%s", d.prefix, k)
}

// AcquireOnce stores value under k unless a value is already there. It returns
// the stored value and whether this call stored it. When Redis is unavailable
// the call is allowed through.
func (d *Deduper) AcquireOnce(ctx context.Context, k, value string) (string, bool) {
	key := d.key(k)

	ok, err := d.rdb.SetNX(ctx, key, value, d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing request",
			zap.String("dedup_key", key),
			zap.Error(err),
		)
		return value, true
	}
	if ok {
		return value, true
	}

	existing, err := d.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		// Expired between SETNX and GET.
		return d.AcquireOnce(ctx, k, value)
	}
	if err != nil {
		d.logger.Warn("Redis dedup lookup failed, allowing request",
			zap.String("dedup_key", key),
			zap.Error(err),
		)
		return value, true
	}

	d.logger.Info("Skipped duplicated request",
		zap.String("dedup_key", key),
		zap.String("existing", existing),
	)
	return existing, false
}

// Release forgets k, so a failed first attempt can be repeated.
func (d *Deduper) Release(ctx context.Context, k string) {
	if err := d.rdb.Del(ctx, d.key(k)).Err(); err != nil {
		d.logger.Warn("Failed to release dedup key", zap.String("dedup_key", d.key(k)), zap.Error(err))
	}
}
