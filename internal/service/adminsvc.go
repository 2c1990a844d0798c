package service

import (
	"context"
	"strings"
	"time"

	"MigrationDashboard/internal/domain"
)

// RateLimits is the slice of *ratelimit.Limiter the admin endpoints use.
type RateLimits interface {
	Attempts(ctx context.Context, key string) int
	RetriesLeft(ctx context.Context, key string, maxAttempts int) int
	AvailableIn(ctx context.Context, key string) time.Duration
	ResetAttempts(ctx context.Context, key string)
	Clear(ctx context.Context)
}

type ActivityLister interface {
	ListActivity(ctx context.Context, limit, offset int) ([]domain.Activity, error)
}

type RateLimitStatus struct {
	Key         string `json:"key"`
	Attempts    int    `json:"attempts"`
	RetriesLeft int    `json:"retries_left"`
	// AvailableIn is in whole seconds.
	AvailableIn int64 `json:"available_in"`
}

type AdminService struct {
	Limits      RateLimits
	Activity    ActivityLister
	MaxAttempts int
}

func (s *AdminService) RateLimitStatus(ctx context.Context, key string) (RateLimitStatus, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return RateLimitStatus{}, domain.NewValidationError(map[string]string{"key": "required"})
	}
	return RateLimitStatus{
		Key:         key,
		Attempts:    s.Limits.Attempts(ctx, key),
		RetriesLeft: s.Limits.RetriesLeft(ctx, key, s.MaxAttempts),
		AvailableIn: int64(s.Limits.AvailableIn(ctx, key) / time.Second),
	}, nil
}

func (s *AdminService) ResetRateLimit(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.NewValidationError(map[string]string{"key": "required"})
	}
	s.Limits.ResetAttempts(ctx, key)
	return nil
}

func (s *AdminService) ClearRateLimits(ctx context.Context) {
	s.Limits.Clear(ctx)
}

func (s *AdminService) ListActivity(ctx context.Context, limit, offset int) ([]domain.Activity, error) {
	if s.Activity == nil {
		return []domain.Activity{}, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.Activity.ListActivity(ctx, limit, offset)
}
