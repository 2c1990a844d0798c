package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MigrationDashboard/internal/domain"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// RedisStore keeps one integer counter per key. Every hit re-arms the key's TTL,
// so Redis itself drops idle keys once their window lapses.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: redisKeyPrefix}
}

func (s *RedisStore) Get(ctx context.Context, key string, now time.Time) (domain.RateLimitEntry, bool, error) {
	var (
		getCmd *redis.StringCmd
		ttlCmd *redis.DurationCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		getCmd = p.Get(ctx, s.prefix+key)
		ttlCmd = p.PTTL(ctx, s.prefix+key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.RateLimitEntry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	n, err := getCmd.Int()
	if errors.Is(err, redis.Nil) {
		return domain.RateLimitEntry{}, false, nil
	}
	if err != nil {
		return domain.RateLimitEntry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	ttl := ttlCmd.Val()
	if ttl <= 0 {
		return domain.RateLimitEntry{}, false, nil
	}

	return domain.RateLimitEntry{Key: key, Attempts: n, ExpiresAt: now.Add(ttl)}, true, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, now time.Time, decay time.Duration) (domain.RateLimitEntry, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, s.prefix+key)
		p.PExpire(ctx, s.prefix+key, decay)
		return nil
	})
	if err != nil {
		return domain.RateLimitEntry{}, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return domain.RateLimitEntry{Key: key, Attempts: int(incr.Val()), ExpiresAt: now.Add(decay)}, nil
}

// incrementBelowScript returns {allowed, attempts, pttl_ms}.
var incrementBelowScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
	return {0, n, redis.call('PTTL', KEYS[1])}
end
n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {1, n, tonumber(ARGV[2])}
`)

func (s *RedisStore) IncrementBelow(ctx context.Context, key string, maxAttempts int, now time.Time, decay time.Duration) (bool, domain.RateLimitEntry, error) {
	res, err := incrementBelowScript.Run(ctx, s.client, []string{s.prefix + key}, maxAttempts, decay.Milliseconds()).Int64Slice()
	if err != nil {
		return false, domain.RateLimitEntry{}, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if len(res) != 3 {
		return false, domain.RateLimitEntry{}, fmt.Errorf("redis incr %s: unexpected reply %v", key, res)
	}
	e := domain.RateLimitEntry{
		Key:       key,
		Attempts:  int(res[1]),
		ExpiresAt: now.Add(time.Duration(res[2]) * time.Millisecond),
	}
	return res[0] == 1, e, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
