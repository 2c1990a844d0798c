package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"MigrationDashboard/internal/auth"
	"MigrationDashboard/internal/domain"
	"MigrationDashboard/internal/ratelimit"
	"MigrationDashboard/internal/service"
	"MigrationDashboard/internal/session"
)

type stubUsersStore struct {
	t *testing.T

	lookups atomic.Int32
	users   map[string]domain.UserWithPassword
}

func (s *stubUsersStore) GetActiveUserByLogin(_ context.Context, login string) (domain.UserWithPassword, error) {
	s.lookups.Add(1)
	u, ok := s.users[login]
	if !ok {
		return domain.UserWithPassword{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *stubUsersStore) SetLastLogin(context.Context, string, time.Time) error { return nil }

func (s *stubUsersStore) SetPasswordHash(context.Context, string, string) error {
	s.t.Fatalf("SetPasswordHash called unexpectedly")
	return errors.New("unexpected call")
}

type testServer struct {
	handler  http.Handler
	users    *stubUsersStore
	sessions *session.MemoryStore
	limits   *ratelimit.Limiter
}

func newTestServer(t *testing.T, policy ratelimit.Policy) *testServer {
	t.Helper()

	hash, err := auth.HashPassword("correct-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	users := &stubUsersStore{t: t, users: map[string]domain.UserWithPassword{
		"validuser": {
			User:         domain.User{ID: "u1", Username: "validuser", Email: "valid@example.com", Role: domain.RoleUser, Status: domain.UserStatusActive},
			PasswordHash: hash,
		},
		"root": {
			User:         domain.User{ID: "a1", Username: "root", Role: domain.RoleAdmin, Status: domain.UserStatusActive},
			PasswordHash: hash,
		},
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessStore := session.NewMemoryStore()
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Options{Logger: logger})
	authSvc := &service.AuthService{Users: users, Logger: logger}

	h := NewRouter(RouterOpts{
		Logger:      logger,
		Auth:        authSvc,
		Admin:       &service.AdminService{Limits: limiter, MaxAttempts: policy.MaxAttempts},
		Sessions:    session.NewManager(sessStore, time.Hour),
		Limiter:     limiter,
		LoginPolicy: policy,
		CookieCodec: auth.NewCookieCodec([]byte("test-secret")),
		SessionTTL:  time.Hour,
	})
	return &testServer{handler: h, users: users, sessions: sessStore, limits: limiter}
}

func (s *testServer) do(t *testing.T, method, path, body string, cookies []*http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.4:5555"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) login(t *testing.T, login string) ([]*http.Cookie, loginResponse) {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/v1/auth/login", `{"login":"`+login+`","password":"correct-password"}`, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return rr.Result().Cookies(), resp
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v body=%s", err, rr.Body.String())
	}
	return env.Error.Code
}

func TestLogin_SixthWrongPasswordIsThrottledBeforeAuthenticate(t *testing.T) {
	srv := newTestServer(t, ratelimit.Policy{MaxAttempts: 5, DecayMinutes: 1})
	body := `{"login":"validuser","password":"wrong-password"}`

	for i := 1; i <= 5; i++ {
		rr := srv.do(t, http.MethodPost, "/v1/auth/login", body, nil, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i, rr.Code)
		}
		if code := errorCode(t, rr); code != "invalid_credentials" {
			t.Fatalf("attempt %d: code = %q", i, code)
		}
	}

	rr := srv.do(t, http.MethodPost, "/v1/auth/login", body, nil, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("6th attempt: status = %d, want 429", rr.Code)
	}
	if code := errorCode(t, rr); code != "rate_limited" {
		t.Fatalf("6th attempt: code = %q", code)
	}
	if got := rr.Header().Get("Retry-After"); got == "" || got == "0" {
		t.Fatalf("Retry-After = %q", got)
	}
	if n := srv.users.lookups.Load(); n != 5 {
		t.Fatalf("user lookups = %d, want 5 (throttled request must not authenticate)", n)
	}
}

func TestLogin_SuccessSetsCookieAndRotatesSession(t *testing.T) {
	srv := newTestServer(t, ratelimit.Policy{MaxAttempts: 5, DecayMinutes: 1})

	cookies, resp := srv.login(t, "validuser")
	if resp.User.ID != "u1" || resp.User.Role != domain.RoleUser || resp.CSRFToken == "" {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	var sessCookie *http.Cookie
	for _, c := range cookies {
		if c.Name == auth.SessionCookieName {
			sessCookie = c
		}
	}
	if sessCookie == nil || !sessCookie.HttpOnly {
		t.Fatalf("session cookie missing or not HttpOnly: %+v", cookies)
	}
	if srv.sessions.Len() != 1 {
		t.Fatalf("stored sessions = %d, want 1", srv.sessions.Len())
	}

	rr := srv.do(t, http.MethodGet, "/v1/users/me", "", cookies, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("me status = %d", rr.Code)
	}
	var me sessionUserResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Username != "validuser" {
		t.Fatalf("me = %+v", me)
	}
}

func TestLogin_ValidationAndBadJSON(t *testing.T) {
	srv := newTestServer(t, ratelimit.Policy{MaxAttempts: 5, DecayMinutes: 1})

	rr := srv.do(t, http.MethodPost, "/v1/auth/login", `{"login":""}`, nil, nil)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "validation_error" {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = srv.do(t, http.MethodPost, "/v1/auth/login", `{`, nil, nil)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "bad_json" {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if n := srv.users.lookups.Load(); n != 0 {
		t.Fatalf("lookups = %d, want 0", n)
	}
}

func TestUsersMe_AnonymousIsUnauthorized(t *testing.T) {
	srv := newTestServer(t, ratelimit.Policy{MaxAttempts: 5, DecayMinutes: 1})

	rr := srv.do(t, http.MethodGet, "/v1/users/me", "", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}

	forged := &http.Cookie{Name: auth.SessionCookieName, Value: "abc.def"}
	rr = srv.do(t, http.MethodGet, "/v1/users/me", "", []*http.Cookie{forged}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("forged cookie status = %d", rr.Code)
	}
}

func TestLogout_IdempotentAndClearsCookie(t *testing.T) {
	srv := newTestServer(t, ratelimit.Policy{MaxAttempts: 5, DecayMinutes: 1})
	cookies, _ := srv.login(t, "validuser")

	for i := 0; i < 2; i++ {
		rr := srv.do(t, http.MethodPost, "/v1/auth/logout", "", cookies, nil)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("logout %d: status = %d", i, rr.Code)
		}
		cleared := false
		for _, c := range rr.Result().Cookies() {
			if c.Name == auth.SessionCookieName && c.MaxAge < 0 {
				cleared = true
			}
		}
		if !cleared {
			t.Fatalf("logout %d: cookie not cleared", i)
		}
	}

	if srv.sessions.Len() != 0 {
		t.Fatalf("stored sessions = %d, want 0", srv.sessions.Len())
	}
	rr := srv.do(t, http.MethodGet, "/v1/users/me", "", cookies, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d", rr.Code)
	}

	rr = srv.do(t, http.MethodPost, "/v1/auth/logout", "", nil, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("anonymous logout = %d", rr.Code)
	}
}

func TestAdminRateLimits_RequireRoleAndCSRF(t *testing.T) {
	srv := newTestServer(t, ratelimit.Policy{MaxAttempts: 5, DecayMinutes: 1})
	key := ratelimit.IPKey("198.51.100.7")
	srv.limits.Hit(context.Background(), key, 1)
	srv.limits.Hit(context.Background(), key, 1)

	userCookies, _ := srv.login(t, "validuser")
	rr := srv.do(t, http.MethodGet, "/v1/admin/ratelimits/"+key, "", userCookies, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin status = %d", rr.Code)
	}

	adminCookies, adminResp := srv.login(t, "root")
	rr = srv.do(t, http.MethodGet, "/v1/admin/ratelimits/"+key, "", adminCookies, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin get status = %d body=%s", rr.Code, rr.Body.String())
	}
	var st service.RateLimitStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Attempts != 2 || st.RetriesLeft != 3 || st.AvailableIn != 60 {
		t.Fatalf("status = %+v", st)
	}

	rr = srv.do(t, http.MethodDelete, "/v1/admin/ratelimits/"+key, "", adminCookies, nil)
	if rr.Code != http.StatusForbidden || errorCode(t, rr) != "csrf_token_invalid" {
		t.Fatalf("delete without csrf = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = srv.do(t, http.MethodDelete, "/v1/admin/ratelimits/"+key, "", adminCookies, map[string]string{CSRFHeader: adminResp.CSRFToken})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete with csrf = %d", rr.Code)
	}
	if n := srv.limits.Attempts(context.Background(), key); n != 0 {
		t.Fatalf("attempts after reset = %d", n)
	}
}

func TestClientIP_ForwardedForOnlyWhenTrusted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := (&api{}).clientIP(req); got != "10.0.0.2" {
		t.Fatalf("untrusted clientIP = %q", got)
	}
	if got := (&api{trustProxy: true}).clientIP(req); got != "203.0.113.9" {
		t.Fatalf("trusted clientIP = %q", got)
	}
}

func TestHealthz(t *testing.T) {
	h := NewRouter(RouterOpts{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		DBPing: func(context.Context) error { return errors.New("down") },
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("login without services = %d", rr.Code)
	}
}

func TestAdminRateLimits_PathKeyReachesHandler(t *testing.T) {
	srv := newTestServer(t, ratelimit.Policy{MaxAttempts: 5, DecayMinutes: 1})
	key := ratelimit.IPKey("198.51.100.9")
	srv.limits.Hit(context.Background(), key, 1)

	cookies, resp := srv.login(t, "root")

	rr := srv.do(t, http.MethodGet, "/v1/admin/ratelimits/"+key, "", cookies, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d body=%s", rr.Code, rr.Body.String())
	}
	var st service.RateLimitStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Key != key || st.Attempts != 1 {
		t.Fatalf("status = %+v", st)
	}

	rr = srv.do(t, http.MethodDelete, "/v1/admin/ratelimits/"+key, "", cookies, map[string]string{CSRFHeader: resp.CSRFToken})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d body=%s", rr.Code, rr.Body.String())
	}
	if n := srv.limits.Attempts(context.Background(), key); n != 0 {
		t.Fatalf("attempts after delete = %d, want 0", n)
	}

	rr = srv.do(t, http.MethodGet, "/v1/admin/nope", "", cookies, nil)
	if rr.Code != http.StatusNotFound || errorCode(t, rr) != "not_found" {
		t.Fatalf("unknown admin path = %d body=%s", rr.Code, rr.Body.String())
	}
}
