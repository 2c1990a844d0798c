package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MigrationDashboard/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RateLimitStore keeps limiter counters in the rate_limits table. Expired rows
// stay until the next hit overwrites them or Clear runs.
type RateLimitStore struct {
	pool *pgxpool.Pool
}

func NewRateLimitStore(pool *pgxpool.Pool) *RateLimitStore {
	return &RateLimitStore{pool: pool}
}

func (s *RateLimitStore) Get(ctx context.Context, key string, now time.Time) (domain.RateLimitEntry, bool, error) {
	const q = `
		SELECT attempts, expires_at
		FROM rate_limits
		WHERE key = $1 AND expires_at > $2
	`

	e := domain.RateLimitEntry{Key: key}
	err := s.pool.QueryRow(ctx, q, key, now).Scan(&e.Attempts, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RateLimitEntry{}, false, nil
		}
		return domain.RateLimitEntry{}, false, fmt.Errorf("get rate limit: %w", err)
	}
	return e, true, nil
}

func (s *RateLimitStore) Increment(ctx context.Context, key string, now time.Time, decay time.Duration) (domain.RateLimitEntry, error) {
	const q = `
		INSERT INTO rate_limits (key, attempts, expires_at)
		VALUES ($1, 1, $3)
		ON CONFLICT (key) DO UPDATE
		SET attempts = CASE WHEN rate_limits.expires_at > $2 THEN rate_limits.attempts + 1 ELSE 1 END,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()
		RETURNING attempts, expires_at
	`

	e := domain.RateLimitEntry{Key: key}
	err := s.pool.QueryRow(ctx, q, key, now, now.Add(decay)).Scan(&e.Attempts, &e.ExpiresAt)
	if err != nil {
		return domain.RateLimitEntry{}, fmt.Errorf("increment rate limit: %w", err)
	}
	return e, nil
}

// IncrementBelow only touches the row when it is expired or still under
// maxAttempts. A blocked attempt returns no row and leaves the expiry alone.
func (s *RateLimitStore) IncrementBelow(ctx context.Context, key string, maxAttempts int, now time.Time, decay time.Duration) (bool, domain.RateLimitEntry, error) {
	const q = `
		INSERT INTO rate_limits (key, attempts, expires_at)
		VALUES ($1, 1, $3)
		ON CONFLICT (key) DO UPDATE
		SET attempts = CASE WHEN rate_limits.expires_at > $2 THEN rate_limits.attempts + 1 ELSE 1 END,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()
		WHERE rate_limits.expires_at <= $2 OR rate_limits.attempts < $4
		RETURNING attempts, expires_at
	`

	e := domain.RateLimitEntry{Key: key}
	err := s.pool.QueryRow(ctx, q, key, now, now.Add(decay), maxAttempts).Scan(&e.Attempts, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			cur, _, gerr := s.Get(ctx, key, now)
			if gerr != nil {
				return false, domain.RateLimitEntry{}, gerr
			}
			return false, cur, nil
		}
		return false, domain.RateLimitEntry{}, fmt.Errorf("increment rate limit: %w", err)
	}
	return true, e, nil
}

func (s *RateLimitStore) Delete(ctx context.Context, key string) error {
	const q = `DELETE FROM rate_limits WHERE key = $1`

	if _, err := s.pool.Exec(ctx, q, key); err != nil {
		return fmt.Errorf("delete rate limit: %w", err)
	}
	return nil
}

func (s *RateLimitStore) Clear(ctx context.Context) error {
	const q = `DELETE FROM rate_limits`

	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("clear rate limits: %w", err)
	}
	return nil
}
