package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"MigrationDashboard/internal/auth"
	"MigrationDashboard/internal/domain"
	"MigrationDashboard/internal/ratelimit"
	"MigrationDashboard/internal/session"
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	User      sessionUserResponse `json:"user"`
	CSRFToken string              `json:"csrf_token"`
}

func (a *api) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	fields := map[string]string{}
	if req.Login == "" {
		fields["login"] = "required"
	}
	if req.Password == "" {
		fields["password"] = "required"
	}
	if len(fields) > 0 {
		WriteDomainError(w, domain.NewValidationError(fields))
		return
	}

	ctx := r.Context()
	ip := a.clientIP(r)
	activity := domain.Activity{IP: ip, UserAgent: r.UserAgent()}

	if !a.limiter.ForIP(ctx, ip, a.loginPolicy.MaxAttempts, a.loginPolicy.DecayMinutes) {
		retry := a.limiter.AvailableIn(ctx, ratelimit.IPKey(ip))
		activity.Action = domain.ActivityLoginThrottled
		a.authSvc.Record(ctx, activity)
		w.Header().Set("Retry-After", strconv.FormatInt(max(int64(retry/time.Second), 1), 10))
		WriteDomainError(w, domain.ErrRateLimited)
		return
	}

	u, ok := a.authSvc.Authenticate(ctx, req.Login, req.Password)
	if !ok {
		activity.Action = domain.ActivityLoginFailed
		a.authSvc.Record(ctx, activity)
		WriteDomainError(w, domain.ErrInvalidCredentials)
		return
	}

	sess, ok := CurrentSession(r)
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	if err := a.authSvc.CreateSession(ctx, sess, u); err != nil {
		a.logger.Error("create session failed", "user_id", u.ID, "err", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	activity.Action = domain.ActivityLogin
	activity.UserID = u.ID
	a.authSvc.Record(ctx, activity)

	auth.SetSessionCookie(w, a.cookieCodec.EncodeSessionID(sess.ID()), a.sessionTTL, a.cookieSecure)
	WriteJSON(w, http.StatusOK, loginResponse{
		User:      newSessionUserResponse(sess.Data()),
		CSRFToken: sess.Data().CSRFToken,
	})
}

// handleAuthLogout always answers 204 so repeated logouts are harmless.
func (a *api) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := CurrentSession(r); ok {
		if sess.Authenticated() {
			a.authSvc.Record(r.Context(), domain.Activity{
				UserID:    sess.Data().UserID,
				Action:    domain.ActivityLogout,
				IP:        a.clientIP(r),
				UserAgent: r.UserAgent(),
			})
		}
		a.authSvc.DestroySession(r.Context(), sess)
	}

	auth.ClearSessionCookie(w, a.cookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

type sessionUserResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role"`
	LoginTime   string `json:"login_time"`
}

func newSessionUserResponse(d session.Data) sessionUserResponse {
	return sessionUserResponse{
		ID:          d.UserID,
		Email:       d.Email,
		Username:    d.Username,
		DisplayName: d.DisplayName,
		Role:        d.Role,
		LoginTime:   d.LoginTime.UTC().Format(time.RFC3339),
	}
}
