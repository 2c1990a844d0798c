package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"MigrationDashboard/internal/domain"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
)

type storeResult struct {
	entry   domain.RateLimitEntry
	found   bool
	allowed bool
}

// BreakerStore stops calling a failing backend for a while once it trips.
// An open breaker surfaces as an error, which the limiter turns into a
// fail-open result.
type BreakerStore struct {
	next Store
	cb   circuitbreaker.CircuitBreaker[storeResult]
}

func NewBreakerStore(next Store, name string, logger *slog.Logger) *BreakerStore {
	if logger == nil {
		logger = slog.Default()
	}
	cb := circuitbreaker.New[storeResult](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("rate limit store breaker state change",
				"store", name,
				"from", from.String(),
				"to", to.String())
		},
	})
	return &BreakerStore{next: next, cb: cb}
}

func (s *BreakerStore) Get(ctx context.Context, key string, now time.Time) (domain.RateLimitEntry, bool, error) {
	res, err := s.cb.Execute(ctx, func(ctx context.Context) (storeResult, error) {
		e, found, err := s.next.Get(ctx, key, now)
		return storeResult{entry: e, found: found}, err
	})
	return res.entry, res.found, err
}

func (s *BreakerStore) Increment(ctx context.Context, key string, now time.Time, decay time.Duration) (domain.RateLimitEntry, error) {
	res, err := s.cb.Execute(ctx, func(ctx context.Context) (storeResult, error) {
		e, err := s.next.Increment(ctx, key, now, decay)
		return storeResult{entry: e, found: true}, err
	})
	return res.entry, err
}

func (s *BreakerStore) IncrementBelow(ctx context.Context, key string, maxAttempts int, now time.Time, decay time.Duration) (bool, domain.RateLimitEntry, error) {
	res, err := s.cb.Execute(ctx, func(ctx context.Context) (storeResult, error) {
		allowed, e, err := incrementBelow(ctx, s.next, key, maxAttempts, now, decay)
		return storeResult{entry: e, found: true, allowed: allowed}, err
	})
	return res.allowed, res.entry, err
}

func (s *BreakerStore) Delete(ctx context.Context, key string) error {
	_, err := s.cb.Execute(ctx, func(ctx context.Context) (storeResult, error) {
		return storeResult{}, s.next.Delete(ctx, key)
	})
	return err
}

func (s *BreakerStore) Clear(ctx context.Context) error {
	_, err := s.cb.Execute(ctx, func(ctx context.Context) (storeResult, error) {
		return storeResult{}, s.next.Clear(ctx)
	})
	return err
}
