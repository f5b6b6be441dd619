package quota

import (
	"context"
	"fmt"
	"time"

	"coursemail/internal/model"
	"coursemail/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tx is the view of the quota tables available inside one atomic unit.
type Tx interface {
	// Count returns the counter value for (scope, key, day), 0 when the row does not exist.
	Count(ctx context.Context, scope model.QuotaScope, key string, day time.Time) (int, error)
	// LastSentAt returns the newest email_logs.sent_at for userID after since.
	LastSentAt(ctx context.Context, userID string, since time.Time) (time.Time, bool, error)
	// Increment creates the counter at 1 or adds 1 and returns the new value.
	Increment(ctx context.Context, scope model.QuotaScope, key string, day time.Time) (int, error)
	AppendLog(ctx context.Context, entry *model.EmailLog) error
}

// Store runs fn in a transaction. A nil return commits.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Limits struct {
	UserDaily   int
	SystemDaily int
	Cooldown    time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		UserDaily:   5,
		SystemDaily: 100,
		Cooldown:    60 * time.Second,
	}
}

// Ledger enforces the per-user and system daily quotas and the per-user cooldown.
type Ledger struct {
	store  Store
	limits Limits
	now    func() time.Time
	logger *zap.Logger
}

func NewLedger(store Store, limits Limits, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		limits: limits,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Check runs the cooldown check and then the quota check in one transaction.
// It never writes. Admin senders skip the cooldown and the per-user quota.
func (l *Ledger) Check(ctx context.Context, userID string, isAdmin bool) error {
	if userID == "" {
		return model.ErrMissingOwner
	}
	now := l.now().UTC()
	return l.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if !isAdmin {
			if err := l.checkCooldown(ctx, tx, userID, now); err != nil {
				return err
			}
		}
		return l.checkCounters(ctx, tx, userID, isAdmin, model.DayOf(now))
	})
}

func (l *Ledger) checkCounters(ctx context.Context, tx Tx, userID string, isAdmin bool, day time.Time) error {
	if !isAdmin {
		count, err := tx.Count(ctx, model.QuotaScopeUser, userID, day)
		if err != nil {
			return fmt.Errorf("read user quota: %w", err)
		}
		if count >= l.limits.UserDaily {
			metrics.IncrementQuotaRejection("user")
			return &model.QuotaExceededError{Scope: model.QuotaScopeUser, Limit: l.limits.UserDaily, Count: count}
		}
	}

	count, err := tx.Count(ctx, model.QuotaScopeGlobal, model.SystemQuotaKey, day)
	if err != nil {
		return fmt.Errorf("read system quota: %w", err)
	}
	if count >= l.limits.SystemDaily {
		metrics.IncrementQuotaRejection("global")
		return &model.QuotaExceededError{Scope: model.QuotaScopeGlobal, Limit: l.limits.SystemDaily, Count: count}
	}
	return nil
}

// Consume records a confirmed send: both counters and the email log are written
// in one transaction. When the incremented counters end up above their limits
// the writes are still committed, because the email already left, and the
// returned error wraps both model.ErrQuotaOvershoot and the QuotaExceededError.
func (l *Ledger) Consume(ctx context.Context, userID, email string, typ model.EmailType, isAdmin bool) error {
	if userID == "" {
		return model.ErrMissingOwner
	}
	now := l.now().UTC()
	day := model.DayOf(now)

	var overshoot *model.QuotaExceededError
	err := l.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		overshoot = nil
		if !isAdmin {
			count, err := tx.Increment(ctx, model.QuotaScopeUser, userID, day)
			if err != nil {
				return fmt.Errorf("increment user quota: %w", err)
			}
			if count > l.limits.UserDaily {
				overshoot = &model.QuotaExceededError{Scope: model.QuotaScopeUser, Limit: l.limits.UserDaily, Count: count}
			}
		}

		count, err := tx.Increment(ctx, model.QuotaScopeGlobal, model.SystemQuotaKey, day)
		if err != nil {
			return fmt.Errorf("increment system quota: %w", err)
		}
		if overshoot == nil && count > l.limits.SystemDaily {
			overshoot = &model.QuotaExceededError{Scope: model.QuotaScopeGlobal, Limit: l.limits.SystemDaily, Count: count}
		}

		entry := &model.EmailLog{
			ID:     uuid.NewString(),
			UserID: userID,
			Email:  email,
			Type:   typ,
			SentAt: now,
		}
		if err := tx.AppendLog(ctx, entry); err != nil {
			return fmt.Errorf("append email log: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if overshoot != nil {
		l.logger.Warn("Quota overshoot recorded after send",
			zap.String("user_id", userID),
			zap.String("scope", string(overshoot.Scope)),
			zap.Int("count", overshoot.Count),
			zap.Int("limit", overshoot.Limit),
		)
		return fmt.Errorf("%w: %w", model.ErrQuotaOvershoot, overshoot)
	}
	return nil
}
