package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"MigrationDashboard/internal/config"
	"MigrationDashboard/internal/ratelimit"
	"MigrationDashboard/internal/store/postgres"
	"MigrationDashboard/internal/store/sqlite"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// newRateLimitStore builds the configured backend. Persistent backends sit
// behind a circuit breaker. The database backend with no database available
// falls back to memory.
func newRateLimitStore(cfg config.RateLimitConfig, pool *pgxpool.Pool, logger *slog.Logger) (ratelimit.Store, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case config.BackendMemory:
		return ratelimit.NewMemoryStore(), noop, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := ratelimit.NewBreakerStore(ratelimit.NewRedisStore(client), "ratelimit-redis", logger)
		return store, func() { _ = client.Close() }, nil

	case config.BackendDatabase:
		switch cfg.Database.Driver {
		case config.DriverSQLite:
			if dir := filepath.Dir(cfg.Database.SQLitePath); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
				}
			}
			db, err := sqlite.Open(cfg.Database.SQLitePath)
			if err != nil {
				return nil, nil, err
			}
			if err := db.Migrate(logger); err != nil {
				db.Close()
				return nil, nil, err
			}
			store := ratelimit.NewBreakerStore(sqlite.NewRateLimitStore(db), "ratelimit-sqlite", logger)
			return store, func() { _ = db.Close() }, nil
		default:
			if pool == nil {
				logger.Warn("rate limit backend is database but APP_DB_DSN is not set, using memory")
				return ratelimit.NewMemoryStore(), noop, nil
			}
			return ratelimit.NewBreakerStore(postgres.NewRateLimitStore(pool), "ratelimit-postgres", logger), noop, nil
		}
	}
	return nil, nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
}
