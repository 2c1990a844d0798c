package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	BackendDatabase = "database"
	BackendMemory   = "memory"
	BackendRedis    = "redis"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// RateLimitConfig mirrors the YAML file named by APP_RATE_LIMIT_CONFIG.
type RateLimitConfig struct {
	Backend  string            `yaml:"backend"`
	Default  PolicyConfig      `yaml:"default"`
	Login    PolicyConfig      `yaml:"login"`
	Database RateLimitDatabase `yaml:"database"`
	Redis    RateLimitRedis    `yaml:"redis"`
}

type PolicyConfig struct {
	MaxAttempts  int `yaml:"max_attempts"`
	DecayMinutes int `yaml:"decay_minutes"`
}

type RateLimitDatabase struct {
	// Driver is postgres (uses APP_DB_DSN) or sqlite.
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
}

type RateLimitRedis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Backend: BackendDatabase,
		Default: PolicyConfig{MaxAttempts: 60, DecayMinutes: 1},
		Login:   PolicyConfig{MaxAttempts: 5, DecayMinutes: 1},
		Database: RateLimitDatabase{
			Driver:     DriverPostgres,
			SQLitePath: "data/ratelimit.db",
		},
	}
}

// ParseRateLimitConfig overlays data onto the defaults and validates the
// result.
func ParseRateLimitConfig(data []byte) (RateLimitConfig, error) {
	cfg, err := decodeRateLimitConfig(data)
	if err != nil {
		return RateLimitConfig{}, err
	}
	return cfg, cfg.Validate()
}

func decodeRateLimitConfig(data []byte) (RateLimitConfig, error) {
	cfg := DefaultRateLimitConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RateLimitConfig{}, fmt.Errorf("parse rate limit config: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	cfg.fillDefaults()
	return cfg, nil
}

func loadRateLimit(getenv func(string) string) (RateLimitConfig, error) {
	cfg := DefaultRateLimitConfig()

	if path := getenv("APP_RATE_LIMIT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return RateLimitConfig{}, fmt.Errorf("APP_RATE_LIMIT_CONFIG: %w", err)
		}
		cfg, err = decodeRateLimitConfig(data)
		if err != nil {
			return RateLimitConfig{}, fmt.Errorf("APP_RATE_LIMIT_CONFIG: %w", err)
		}
	}

	if v := strings.TrimSpace(getenv("APP_RATE_LIMIT_BACKEND")); v != "" {
		cfg.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv("APP_SQLITE_PATH")); v != "" {
		cfg.Database.Driver = DriverSQLite
		cfg.Database.SQLitePath = v
	}
	if v := strings.TrimSpace(getenv("APP_REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}

	if err := cfg.Validate(); err != nil {
		return RateLimitConfig{}, fmt.Errorf("APP_RATE_LIMIT_BACKEND: %w", err)
	}
	return cfg, nil
}

func (c *RateLimitConfig) fillDefaults() {
	def := DefaultRateLimitConfig()
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.Default.MaxAttempts <= 0 {
		c.Default.MaxAttempts = def.Default.MaxAttempts
	}
	if c.Default.DecayMinutes <= 0 {
		c.Default.DecayMinutes = def.Default.DecayMinutes
	}
	if c.Login.MaxAttempts <= 0 {
		c.Login.MaxAttempts = def.Login.MaxAttempts
	}
	if c.Login.DecayMinutes <= 0 {
		c.Login.DecayMinutes = def.Login.DecayMinutes
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = def.Database.SQLitePath
	}
}

func (c RateLimitConfig) Validate() error {
	switch c.Backend {
	case BackendDatabase:
		switch c.Database.Driver {
		case DriverPostgres, DriverSQLite:
		default:
			return fmt.Errorf("database.driver %q: must be postgres or sqlite", c.Database.Driver)
		}
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr: required for the redis backend")
		}
	default:
		return fmt.Errorf("backend %q: must be database, memory or redis", c.Backend)
	}
	return nil
}
