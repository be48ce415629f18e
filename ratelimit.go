package main

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

var errRateLimited = errors.New("RATE_LIMITED")

type rateLimiter struct {
	db  *sql.DB
	cfg Config
}

func newRateLimiter(db *sql.DB, cfg Config) *rateLimiter {
	return &rateLimiter{db: db, cfg: cfg}
}

func (l *rateLimiter) limits(action string) (int, time.Duration) {
	switch action {
	case "signup":
		return l.cfg.SignupRateLimit, time.Duration(l.cfg.SignupRateWindowSeconds) * time.Second
	case "login":
		return l.cfg.LoginRateLimit, time.Duration(l.cfg.LoginRateWindowSeconds) * time.Second
	default:
		return 10, 10 * time.Minute
	}
}

// check counts the attempt against a fixed window per (ip, action). The row
// is locked FOR UPDATE so concurrent attempts from one IP serialize.
func (l *rateLimiter) check(ctx context.Context, ip string, action string) error {
	ip = strings.TrimSpace(ip)
	limit, window := l.limits(action)
	if ip == "" || limit <= 0 || window <= 0 {
		return nil
	}

	now := time.Now().UTC()
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var windowStart time.Time
	var attempts int
	err = tx.QueryRowContext(ctx, `
		SELECT window_start, attempt_count
		FROM auth_rate_limits
		WHERE ip = $1 AND action = $2
		FOR UPDATE
	`, ip, action).Scan(&windowStart, &attempts)
	if err == sql.ErrNoRows {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO auth_rate_limits (ip, action, window_start, attempt_count, updated_at)
			VALUES ($1, $2, $3, 1, $3)
		`, ip, action, now)
		if err != nil {
			return err
		}
		return tx.Commit()
	}
	if err != nil {
		return err
	}

	if now.Sub(windowStart) >= window {
		_, err = tx.ExecContext(ctx, `
			UPDATE auth_rate_limits
			SET window_start = $3,
				attempt_count = 1,
				updated_at = $3
			WHERE ip = $1 AND action = $2
		`, ip, action, now)
		if err != nil {
			return err
		}
		return tx.Commit()
	}

	if attempts >= limit {
		_, _ = tx.ExecContext(ctx, `
			UPDATE auth_rate_limits
			SET updated_at = $3
			WHERE ip = $1 AND action = $2
		`, ip, action, now)
		if err := tx.Commit(); err != nil {
			return err
		}
		return errRateLimited
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE auth_rate_limits
		SET attempt_count = attempt_count + 1,
			updated_at = $3
		WHERE ip = $1 AND action = $2
	`, ip, action, now)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// pruneRateLimits drops rows whose window expired long ago.
func pruneRateLimits(db *sql.DB) error {
	_, err := db.Exec(`
		DELETE FROM auth_rate_limits
		WHERE updated_at < NOW() - INTERVAL '1 day'
	`)
	return err
}
