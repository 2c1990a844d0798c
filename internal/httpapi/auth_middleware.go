package httpapi

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"MigrationDashboard/internal/domain"
	"MigrationDashboard/internal/session"
)

const CSRFHeader = "X-CSRF-Token"

// loadSession attaches the request's session, anonymous when the cookie is
// missing, forged or stale.
func (a *api) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := a.cookieCodec.SessionIDFromRequest(r)
		sess, err := a.sessions.Load(r.Context(), id)
		if err != nil {
			a.logger.Warn("session load failed", "err", err)
		}
		next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), sess)))
	})
}

// csrf rejects state-changing requests from authenticated sessions that do
// not echo the session's token. Login and logout are exempt.
func (a *api) csrf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == "/v1/auth/login" || r.URL.Path == "/v1/auth/logout" {
			next.ServeHTTP(w, r)
			return
		}

		sess, ok := session.FromContext(r.Context())
		if !ok || !sess.Authenticated() {
			next.ServeHTTP(w, r)
			return
		}

		want := sess.Data().CSRFToken
		got := r.Header.Get(CSRFHeader)
		if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
			WriteDomainError(w, domain.ErrCSRF)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *api) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.FromContext(r.Context())
		if !ok || !sess.Authenticated() {
			WriteDomainError(w, domain.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (a *api) requireRole(next http.HandlerFunc, role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.FromContext(r.Context())
		if !ok || sess.Data().Role != role {
			WriteDomainError(w, domain.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}
}

// CurrentSession returns the session attached by the router.
func CurrentSession(r *http.Request) (*session.Session, bool) {
	return session.FromContext(r.Context())
}

func (a *api) clientIP(r *http.Request) string {
	if a.trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
