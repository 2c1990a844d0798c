package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"MigrationDashboard/internal/domain"
)

// RateLimitStore mirrors the Postgres table with expiry kept as unix
// milliseconds.
type RateLimitStore struct {
	db *DB
}

func NewRateLimitStore(db *DB) *RateLimitStore {
	return &RateLimitStore{db: db}
}

func (s *RateLimitStore) Get(ctx context.Context, key string, now time.Time) (domain.RateLimitEntry, bool, error) {
	const q = `SELECT attempts, expires_at FROM rate_limits WHERE key = ? AND expires_at > ?`

	var (
		attempts  int
		expiresMs int64
	)
	err := s.db.QueryRowContext(ctx, q, key, now.UnixMilli()).Scan(&attempts, &expiresMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RateLimitEntry{}, false, nil
		}
		return domain.RateLimitEntry{}, false, fmt.Errorf("get rate limit: %w", err)
	}
	return domain.RateLimitEntry{Key: key, Attempts: attempts, ExpiresAt: time.UnixMilli(expiresMs)}, true, nil
}

func (s *RateLimitStore) Increment(ctx context.Context, key string, now time.Time, decay time.Duration) (domain.RateLimitEntry, error) {
	const q = `
		INSERT INTO rate_limits (key, attempts, expires_at, updated_at)
		VALUES (?1, 1, ?3, ?2)
		ON CONFLICT (key) DO UPDATE
		SET attempts = CASE WHEN rate_limits.expires_at > ?2 THEN rate_limits.attempts + 1 ELSE 1 END,
		    expires_at = excluded.expires_at,
		    updated_at = excluded.updated_at
		RETURNING attempts, expires_at
	`

	var (
		attempts  int
		expiresMs int64
	)
	err := s.db.QueryRowContext(ctx, q, key, now.UnixMilli(), now.Add(decay).UnixMilli()).Scan(&attempts, &expiresMs)
	if err != nil {
		return domain.RateLimitEntry{}, fmt.Errorf("increment rate limit: %w", err)
	}
	return domain.RateLimitEntry{Key: key, Attempts: attempts, ExpiresAt: time.UnixMilli(expiresMs)}, nil
}

func (s *RateLimitStore) IncrementBelow(ctx context.Context, key string, maxAttempts int, now time.Time, decay time.Duration) (bool, domain.RateLimitEntry, error) {
	const q = `
		INSERT INTO rate_limits (key, attempts, expires_at, updated_at)
		VALUES (?1, 1, ?3, ?2)
		ON CONFLICT (key) DO UPDATE
		SET attempts = CASE WHEN rate_limits.expires_at > ?2 THEN rate_limits.attempts + 1 ELSE 1 END,
		    expires_at = excluded.expires_at,
		    updated_at = excluded.updated_at
		WHERE rate_limits.expires_at <= ?2 OR rate_limits.attempts < ?4
		RETURNING attempts, expires_at
	`

	var (
		attempts  int
		expiresMs int64
	)
	err := s.db.QueryRowContext(ctx, q, key, now.UnixMilli(), now.Add(decay).UnixMilli(), maxAttempts).Scan(&attempts, &expiresMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			cur, _, gerr := s.Get(ctx, key, now)
			if gerr != nil {
				return false, domain.RateLimitEntry{}, gerr
			}
			return false, cur, nil
		}
		return false, domain.RateLimitEntry{}, fmt.Errorf("increment rate limit: %w", err)
	}
	return true, domain.RateLimitEntry{Key: key, Attempts: attempts, ExpiresAt: time.UnixMilli(expiresMs)}, nil
}

func (s *RateLimitStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete rate limit: %w", err)
	}
	return nil
}

func (s *RateLimitStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits`); err != nil {
		return fmt.Errorf("clear rate limits: %w", err)
	}
	return nil
}
