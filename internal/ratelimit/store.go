package ratelimit

import (
	"context"
	"time"

	"MigrationDashboard/internal/domain"
)

// Store is a rate-limit backend. Get only reports entries that are still
// active at now. Increment creates the entry or bumps it, and always moves its
// expiry to now+decay.
type Store interface {
	Get(ctx context.Context, key string, now time.Time) (domain.RateLimitEntry, bool, error)
	Increment(ctx context.Context, key string, now time.Time, decay time.Duration) (domain.RateLimitEntry, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// ConditionalIncrementer is implemented by stores that can check the cap and
// increment in one step. When allowed is false the entry is left untouched.
type ConditionalIncrementer interface {
	IncrementBelow(ctx context.Context, key string, maxAttempts int, now time.Time, decay time.Duration) (allowed bool, entry domain.RateLimitEntry, err error)
}

// incrementBelow is the read-then-write fallback for stores without a
// conditional increment. Two concurrent callers can both pass the check.
func incrementBelow(ctx context.Context, s Store, key string, maxAttempts int, now time.Time, decay time.Duration) (bool, domain.RateLimitEntry, error) {
	if ci, ok := s.(ConditionalIncrementer); ok {
		return ci.IncrementBelow(ctx, key, maxAttempts, now, decay)
	}

	e, found, err := s.Get(ctx, key, now)
	if err != nil {
		return false, domain.RateLimitEntry{}, err
	}
	if found && e.Attempts >= maxAttempts {
		return false, e, nil
	}
	e, err = s.Increment(ctx, key, now, decay)
	if err != nil {
		return false, domain.RateLimitEntry{}, err
	}
	return true, e, nil
}
