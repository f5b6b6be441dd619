package quota

import (
	"context"
	"fmt"
	"math"
	"time"

	"coursemail/internal/model"
	"coursemail/pkg/metrics"
)

func (l *Ledger) checkCooldown(ctx context.Context, tx Tx, userID string, now time.Time) error {
	if l.limits.Cooldown <= 0 {
		return nil
	}
	last, ok, err := tx.LastSentAt(ctx, userID, now.Add(-l.limits.Cooldown))
	if err != nil {
		return fmt.Errorf("read last send: %w", err)
	}
	if !ok {
		return nil
	}
	left := l.limits.Cooldown - now.Sub(last)
	if left <= 0 {
		return nil
	}
	metrics.IncrementQuotaRejection("cooldown")
	return &model.CooldownError{SecondsLeft: int(math.Ceil(left.Seconds()))}
}
