package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MigrationDashboard/internal/auth"
	"MigrationDashboard/internal/config"
	"MigrationDashboard/internal/domain"
	"MigrationDashboard/internal/httpapi"
	"MigrationDashboard/internal/ratelimit"
	"MigrationDashboard/internal/service"
	"MigrationDashboard/internal/session"
	"MigrationDashboard/internal/store/postgres"

	"github.com/common-nighthawk/go-figure"
	"github.com/jackc/pgx/v5/pgxpool"
)

const appName = "migdash"

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if !cfg.IsProd() {
		figure.NewFigure(appName, "cybermedium", true).Print()
		fmt.Println()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		pool     *pgxpool.Pool
		users    *postgres.UsersStore
		activity *postgres.ActivityStore
		dbPing   func(context.Context) error
		sessions session.Store = session.NewMemoryStore()
	)

	if cfg.DBDSN != "" {
		pool, err = postgres.Open(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("db open failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, pool, logger); err != nil {
				logger.Error("db migrate failed", "err", err)
				os.Exit(1)
			}
		}

		users = postgres.NewUsersStore(pool)
		activity = postgres.NewActivityStore(pool)
		pgSessions := postgres.NewSessionsStore(pool)
		sessions = pgSessions
		dbPing = pool.Ping

		if err := bootstrapAdminUser(ctx, logger, users, cfg.AdminBootstrapEmail, cfg.AdminBootstrapUsername, cfg.AdminBootstrapPassword); err != nil {
			logger.Error("bootstrap admin failed", "err", err)
			os.Exit(1)
		}

		go sweepSessions(ctx, logger, pgSessions, 10*time.Minute)
	} else {
		logger.Warn("APP_DB_DSN not set: sessions are in memory and login is disabled")
	}

	limiterStore, closeStore, err := newRateLimitStore(cfg.RateLimit, pool, logger)
	if err != nil {
		logger.Error("rate limit store failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	limiter := ratelimit.New(limiterStore, ratelimit.Options{
		Default: ratelimit.Policy{
			MaxAttempts:  cfg.RateLimit.Default.MaxAttempts,
			DecayMinutes: cfg.RateLimit.Default.DecayMinutes,
		},
		Logger: logger,
	})
	loginPolicy := ratelimit.Policy{
		MaxAttempts:  cfg.RateLimit.Login.MaxAttempts,
		DecayMinutes: cfg.RateLimit.Login.DecayMinutes,
	}

	var (
		authSvc  *service.AuthService
		adminSvc *service.AdminService
	)
	if users != nil {
		authSvc = &service.AuthService{Users: users, Activity: activity, Logger: logger}
		adminSvc = &service.AdminService{Limits: limiter, Activity: activity, MaxAttempts: loginPolicy.MaxAttempts}
	}

	handler := httpapi.NewRouter(httpapi.RouterOpts{
		Logger:            logger,
		IsProd:            cfg.IsProd(),
		DBPing:            dbPing,
		Auth:              authSvc,
		Admin:             adminSvc,
		Sessions:          session.NewManager(sessions, cfg.SessionTTL),
		Limiter:           limiter,
		LoginPolicy:       loginPolicy,
		CookieCodec:       auth.NewCookieCodec([]byte(cfg.CookieSecret)),
		CookieSecure:      cfg.CookieSecure(),
		SessionTTL:        cfg.SessionTTL,
		TrustProxyHeaders: cfg.TrustProxy,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "env", cfg.Env, "addr", cfg.Addr, "rate_limit_backend", cfg.RateLimit.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}
}

type adminBootstrapStore interface {
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	CreateUser(ctx context.Context, email, username, displayName, role, passwordHash string) (domain.User, error)
}

func bootstrapAdminUser(ctx context.Context, logger *slog.Logger, users adminBootstrapStore, email, username, password string) error {
	if password == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if len(password) < 12 {
		return errors.New("APP_ADMIN_BOOTSTRAP_PASSWORD: must be at least 12 characters")
	}
	if email == "" || username == "" {
		return errors.New("admin bootstrap: email and username are required")
	}

	_, err := users.GetUserByEmail(ctx, email)
	if err == nil {
		logger.Info("admin bootstrap: user already exists", "email", email)
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("admin bootstrap: lookup user: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("admin bootstrap: hash password: %w", err)
	}

	_, err = users.CreateUser(ctx, email, username, "Administrator", domain.RoleAdmin, hash)
	if err != nil {
		if errors.Is(err, domain.ErrEmailTaken) || errors.Is(err, domain.ErrUsernameTaken) {
			logger.Info("admin bootstrap: user already exists", "email", email)
			return nil
		}
		return fmt.Errorf("admin bootstrap: create user: %w", err)
	}

	logger.Info("admin bootstrap: created admin user", "email", email)
	return nil
}

type expiredSessionSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

func sweepSessions(ctx context.Context, logger *slog.Logger, store expiredSessionSweeper, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := store.DeleteExpired(ctx, now)
			if err != nil {
				logger.Warn("session sweep failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Debug("session sweep", "deleted", n)
			}
		}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
