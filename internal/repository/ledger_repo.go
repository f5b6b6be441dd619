package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursemail/internal/model"
	"coursemail/internal/quota"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepository backs the quota ledger with the quota_counters and email_logs tables.
type LedgerRepository struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx quota.Tx) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &ledgerTx{tx: tx})
	})
}

type ledgerTx struct {
	tx pgx.Tx
}

// Count takes a share lock on the counter row so a concurrent increment waits for this transaction.
func (t *ledgerTx) Count(ctx context.Context, scope model.QuotaScope, key string, day time.Time) (int, error) {
	query := `
		SELECT count FROM quota_counters
		WHERE scope = $1 AND key = $2 AND day = $3
		FOR SHARE
	`
	var count int
	err := t.tx.QueryRow(ctx, query, scope, key, model.DayOf(day)).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota counter: %w", err)
	}
	return count, nil
}

func (t *ledgerTx) LastSentAt(ctx context.Context, userID string, since time.Time) (time.Time, bool, error) {
	query := `
		SELECT MAX(sent_at) FROM email_logs
		WHERE user_id = $1 AND sent_at > $2
	`
	var last *time.Time
	if err := t.tx.QueryRow(ctx, query, userID, since).Scan(&last); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last send: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return last.UTC(), true, nil
}

func (t *ledgerTx) Increment(ctx context.Context, scope model.QuotaScope, key string, day time.Time) (int, error) {
	query := `
		INSERT INTO quota_counters (scope, key, day, count, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (scope, key, day)
		DO UPDATE SET count = quota_counters.count + 1, updated_at = NOW()
		RETURNING count
	`
	var count int
	if err := t.tx.QueryRow(ctx, query, scope, key, model.DayOf(day)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment quota counter: %w", err)
	}
	return count, nil
}

func (t *ledgerTx) AppendLog(ctx context.Context, entry *model.EmailLog) error {
	query := `
		INSERT INTO email_logs (id, user_id, email, type, sent_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := t.tx.Exec(ctx, query, entry.ID, entry.UserID, entry.Email, entry.Type, entry.SentAt); err != nil {
		return fmt.Errorf("failed to insert email log: %w", err)
	}
	return nil
}
