// Package ratelimit throttles repeated actions per key with a renewing decay
// window: every hit pushes the key's expiry to now+decay.
//
// The limiter fails open. A broken backend is logged and treated as zero
// recorded attempts so it never blocks the action it protects.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Policy struct {
	MaxAttempts  int
	DecayMinutes int
}

var DefaultPolicy = Policy{MaxAttempts: 60, DecayMinutes: 1}

type Options struct {
	// Default applies when a caller passes a non-positive max or decay.
	Default Policy
	Logger  *slog.Logger
	Now     func() time.Time
}

type Limiter struct {
	mu     sync.RWMutex
	store  Store
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, opts Options) *Limiter {
	policy := opts.Default
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if policy.DecayMinutes <= 0 {
		policy.DecayMinutes = DefaultPolicy.DecayMinutes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{store: store, policy: policy, logger: logger, now: now}
}

func (l *Limiter) Policy() Policy { return l.policy }

// SetStore swaps the backend. Intended for tests.
func (l *Limiter) SetStore(store Store) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store = store
}

func (l *Limiter) backend() Store {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store
}

// Attempt records one attempt for key unless it already reached maxAttempts
// inside the current window, in which case it returns false and changes nothing.
func (l *Limiter) Attempt(ctx context.Context, key string, maxAttempts, decayMinutes int) bool {
	maxAttempts = l.maxOrDefault(maxAttempts)
	decay := l.decayOrDefault(decayMinutes)

	allowed, _, err := incrementBelow(ctx, l.backend(), key, maxAttempts, l.now(), decay)
	return failOpen(l, "attempt", key, allowed, err, true)
}

func (l *Limiter) TooManyAttempts(ctx context.Context, key string, maxAttempts int) bool {
	return l.Attempts(ctx, key) >= l.maxOrDefault(maxAttempts)
}

// Hit increments unconditionally and returns the new count, or 0 when the
// backend failed.
func (l *Limiter) Hit(ctx context.Context, key string, decayMinutes int) int {
	e, err := l.backend().Increment(ctx, key, l.now(), l.decayOrDefault(decayMinutes))
	return failOpen(l, "hit", key, e.Attempts, err, 0)
}

func (l *Limiter) Attempts(ctx context.Context, key string) int {
	e, found, err := l.backend().Get(ctx, key, l.now())
	if !found {
		e.Attempts = 0
	}
	return failOpen(l, "attempts", key, e.Attempts, err, 0)
}

func (l *Limiter) RetriesLeft(ctx context.Context, key string, maxAttempts int) int {
	return max(0, l.maxOrDefault(maxAttempts)-l.Attempts(ctx, key))
}

// AvailableIn returns the time until key's window resets, rounded up to whole
// seconds, or 0 when key has no active entry.
func (l *Limiter) AvailableIn(ctx context.Context, key string) time.Duration {
	now := l.now()
	e, found, err := l.backend().Get(ctx, key, now)
	if err != nil {
		failOpen(l, "available_in", key, 0, err, 0)
		return 0
	}
	if !found {
		return 0
	}
	d := e.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return (d + time.Second - 1) / time.Second * time.Second
}

func (l *Limiter) ResetAttempts(ctx context.Context, key string) {
	err := l.backend().Delete(ctx, key)
	failOpen(l, "reset", key, struct{}{}, err, struct{}{})
}

func (l *Limiter) Clear(ctx context.Context) {
	err := l.backend().Clear(ctx)
	failOpen(l, "clear", "", struct{}{}, err, struct{}{})
}

func (l *Limiter) ForIP(ctx context.Context, ip string, maxAttempts, decayMinutes int) bool {
	return l.Attempt(ctx, IPKey(ip), maxAttempts, decayMinutes)
}

func (l *Limiter) ForUser(ctx context.Context, userID string, maxAttempts, decayMinutes int) bool {
	return l.Attempt(ctx, UserKey(userID), maxAttempts, decayMinutes)
}

func IPKey(ip string) string { return "ip:" + ip }

func UserKey(userID string) string { return "user:" + userID }

func (l *Limiter) maxOrDefault(maxAttempts int) int {
	if maxAttempts <= 0 {
		return l.policy.MaxAttempts
	}
	return maxAttempts
}

func (l *Limiter) decayOrDefault(decayMinutes int) time.Duration {
	if decayMinutes <= 0 {
		decayMinutes = l.policy.DecayMinutes
	}
	return time.Duration(decayMinutes) * time.Minute
}

// failOpen collapses a (value, error) store result into the public return
// vocabulary: on error the fallback is returned and the failure is logged.
func failOpen[T any](l *Limiter, op, key string, v T, err error, fallback T) T {
	if err == nil {
		return v
	}
	l.logger.Warn("rate limit store unavailable, failing open", "op", op, "key", key, "err", err)
	return fallback
}
