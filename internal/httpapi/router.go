package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"MigrationDashboard/internal/auth"
	"MigrationDashboard/internal/ratelimit"
	"MigrationDashboard/internal/service"
	"MigrationDashboard/internal/session"
)

type RouterOpts struct {
	Logger *slog.Logger
	IsProd bool

	DBPing func(context.Context) error

	Auth     *service.AuthService
	Admin    *service.AdminService
	Sessions *session.Manager
	Limiter  *ratelimit.Limiter
	// LoginPolicy bounds POST /v1/auth/login per client IP. Zero values fall
	// back to the limiter's default policy.
	LoginPolicy ratelimit.Policy

	CookieCodec  auth.CookieCodec
	CookieSecure bool
	SessionTTL   time.Duration
	// TrustProxyHeaders makes X-Forwarded-For the client IP source.
	TrustProxyHeaders bool
}

func NewRouter(opts RouterOpts) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	api := &api{
		logger:       logger,
		isProd:       opts.IsProd,
		dbPing:       opts.DBPing,
		authSvc:      opts.Auth,
		adminSvc:     opts.Admin,
		sessions:     opts.Sessions,
		limiter:      opts.Limiter,
		loginPolicy:  opts.LoginPolicy,
		cookieCodec:  opts.CookieCodec,
		cookieSecure: opts.CookieSecure,
		sessionTTL:   opts.SessionTTL,
		trustProxy:   opts.TrustProxyHeaders,
	}

	publicMux := http.NewServeMux()
	apiMux := http.NewServeMux()

	publicMux.HandleFunc("GET /healthz", api.handleHealthz)

	if api.authSvc == nil || api.sessions == nil || api.limiter == nil {
		apiMux.HandleFunc("POST /v1/auth/login", handleNotImplemented)
		apiMux.HandleFunc("POST /v1/auth/logout", handleNotImplemented)
		apiMux.HandleFunc("GET /v1/users/me", handleNotImplemented)
	} else {
		apiMux.HandleFunc("POST /v1/auth/login", api.handleAuthLogin)
		apiMux.HandleFunc("POST /v1/auth/logout", api.handleAuthLogout)
		apiMux.HandleFunc("GET /v1/users/me", api.requireAuth(api.handleUsersMe))

		if api.adminSvc != nil {
			admin := func(h http.HandlerFunc) http.HandlerFunc {
				return api.requireAuth(api.requireRole(h, "admin"))
			}
			apiMux.HandleFunc("GET /v1/admin/ratelimits/{key}", admin(api.handleAdminRateLimitGet))
			apiMux.HandleFunc("DELETE /v1/admin/ratelimits/{key}", admin(api.handleAdminRateLimitReset))
			apiMux.HandleFunc("DELETE /v1/admin/ratelimits", admin(api.handleAdminRateLimitClear))
			apiMux.HandleFunc("GET /v1/admin/activity", admin(api.handleAdminActivity))
		}
	}

	apiHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pattern := apiMux.Handler(r); pattern == "" {
			handleV1NotFound(w, r)
			return
		}
		// ServeHTTP, not the matched handler, so path values get populated.
		apiMux.ServeHTTP(w, r)
	})

	var v1 http.Handler = apiHandler
	if api.sessions != nil {
		v1 = api.csrf(v1)
		v1 = api.loadSession(v1)
	}

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") || r.URL.Path == "/v1" {
			v1.ServeHTTP(w, r)
			return
		}
		publicMux.ServeHTTP(w, r)
	})

	var h http.Handler = root
	h = RequestLogger(logger)(h)
	h = RequestID()(h)
	h = Recoverer(logger, opts.IsProd)(h)
	return h
}

func handleNotImplemented(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotImplemented, "not_implemented", "not implemented")
}

func handleV1NotFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotFound, "not_found", "not found")
}

type api struct {
	logger *slog.Logger
	isProd bool

	dbPing func(context.Context) error

	authSvc     *service.AuthService
	adminSvc    *service.AdminService
	sessions    *session.Manager
	limiter     *ratelimit.Limiter
	loginPolicy ratelimit.Policy

	cookieCodec  auth.CookieCodec
	cookieSecure bool
	sessionTTL   time.Duration
	trustProxy   bool
}

func (a *api) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if a.dbPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()
		if err := a.dbPing(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db down"))
			return
		}
	}

	_, _ = w.Write([]byte("ok"))
}
