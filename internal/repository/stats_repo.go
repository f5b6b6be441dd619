package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursemail/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StatsRepository serves the read-only queries behind the admin statistics.
type StatsRepository struct {
	db *pgxpool.Pool
}

func NewStatsRepository(db *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{db: db}
}

func (r *StatsRepository) CounterValue(ctx context.Context, scope model.QuotaScope, key string, day time.Time) (int, error) {
	query := `SELECT count FROM quota_counters WHERE scope = $1 AND key = $2 AND day = $3`
	var count int
	err := r.db.QueryRow(ctx, query, scope, key, model.DayOf(day)).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota counter: %w", err)
	}
	return count, nil
}

// TopUsers returns the heaviest senders of the day.
func (r *StatsRepository) TopUsers(ctx context.Context, day time.Time, limit int) ([]model.UserUsage, error) {
	query := `
		SELECT key, count FROM quota_counters
		WHERE scope = 'USER' AND day = $1
		ORDER BY count DESC, key ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, model.DayOf(day), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top users: %w", err)
	}
	defer rows.Close()

	users := []model.UserUsage{}
	for rows.Next() {
		var u model.UserUsage
		if err := rows.Scan(&u.UserID, &u.Count); err != nil {
			return nil, fmt.Errorf("failed to scan user usage: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *StatsRepository) RecentEmails(ctx context.Context, limit int) ([]model.EmailLog, error) {
	query := `
		SELECT id, user_id, email, type, sent_at FROM email_logs
		ORDER BY sent_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent emails: %w", err)
	}
	defer rows.Close()

	logs := []model.EmailLog{}
	for rows.Next() {
		var l model.EmailLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.Email, &l.Type, &l.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan email log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (r *StatsRepository) TotalEmails(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM email_logs`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count email logs: %w", err)
	}
	return total, nil
}
