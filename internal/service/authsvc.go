package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"MigrationDashboard/internal/auth"
	"MigrationDashboard/internal/domain"
	"MigrationDashboard/internal/session"
)

type UsersStore interface {
	GetActiveUserByLogin(ctx context.Context, login string) (domain.UserWithPassword, error)
	SetLastLogin(ctx context.Context, userID string, when time.Time) error
	SetPasswordHash(ctx context.Context, userID, passwordHash string) error
}

type ActivityRecorder interface {
	RecordActivity(ctx context.Context, a domain.Activity) error
}

// AuthService verifies credentials and moves a session between the anonymous
// and authenticated states. Activity is optional.
type AuthService struct {
	Users    UsersStore
	Activity ActivityRecorder
	Logger   *slog.Logger
	Now      func() time.Time
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// timingHash is verified when no user matches so a miss costs the same as a
// wrong password.
func timingHash() string {
	dummyHashOnce.Do(func() {
		h, err := auth.HashPassword("not-a-real-password")
		if err == nil {
			dummyHash = h
		}
	})
	return dummyHash
}

// verifyTimingHash burns one password verification. Swapped in tests.
var verifyTimingHash = func(password string) {
	if h := timingHash(); h != "" {
		_, _ = auth.VerifyPassword(h, password)
	}
}

// Authenticate returns the active user matching identifier exactly (username
// or email) whose password verifies. Every failure, including storage errors,
// is reported as false.
func (s *AuthService) Authenticate(ctx context.Context, identifier, password string) (domain.User, bool) {
	if identifier == "" || password == "" {
		verifyTimingHash(password)
		return domain.User{}, false
	}

	u, err := s.Users.GetActiveUserByLogin(ctx, identifier)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger().Error("user lookup failed", "err", err)
		}
		verifyTimingHash(password)
		return domain.User{}, false
	}
	if u.Status != domain.UserStatusActive {
		return domain.User{}, false
	}

	ok, err := auth.VerifyPassword(u.PasswordHash, password)
	if err != nil {
		s.logger().Warn("stored password hash unusable", "user_id", u.ID, "err", err)
		return domain.User{}, false
	}
	if !ok {
		return domain.User{}, false
	}

	if auth.NeedsRehash(u.PasswordHash) {
		s.rehash(ctx, u.ID, password)
	}
	return u.User, true
}

func (s *AuthService) rehash(ctx context.Context, userID, password string) {
	h, err := auth.HashPassword(password)
	if err != nil {
		s.logger().Warn("rehash password", "user_id", userID, "err", err)
		return
	}
	if err := s.Users.SetPasswordHash(ctx, userID, h); err != nil {
		s.logger().Warn("store rehashed password", "user_id", userID, "err", err)
	}
}

// CreateSession marks sess authenticated for user. The ID is regenerated last,
// after every field is written.
func (s *AuthService) CreateSession(ctx context.Context, sess *session.Session, user domain.User) error {
	if user.ID == "" {
		return fmt.Errorf("create session: %w", domain.ErrUnauthorized)
	}

	csrf, err := newCSRFToken()
	if err != nil {
		return err
	}

	role := user.Role
	if role == "" {
		role = domain.RoleUser
	}
	now := s.now()

	sess.Update(func(d *session.Data) {
		d.Authenticated = true
		d.UserID = user.ID
		d.DisplayName = user.DisplayName
		d.Email = user.Email
		d.Username = user.Username
		d.Role = role
		d.LoginTime = now
		d.CSRFToken = csrf
	})

	if err := s.Users.SetLastLogin(ctx, user.ID, now); err != nil {
		s.logger().Warn("set last login", "user_id", user.ID, "err", err)
	}

	if err := sess.Regenerate(ctx); err != nil {
		sess.Update(func(d *session.Data) { *d = session.Data{} })
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// DestroySession returns sess to the anonymous state. It never fails and is
// safe to call on a session that is already gone.
func (s *AuthService) DestroySession(ctx context.Context, sess *session.Session) {
	if sess == nil {
		return
	}
	if err := sess.Destroy(ctx); err != nil {
		s.logger().Warn("destroy session", "err", err)
	}
}

// Record stores an activity entry. Failures are logged and dropped.
func (s *AuthService) Record(ctx context.Context, a domain.Activity) {
	if s.Activity == nil {
		return
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	if err := s.Activity.RecordActivity(ctx, a); err != nil {
		s.logger().Warn("record activity", "action", a.Action, "err", err)
	}
}

func (s *AuthService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *AuthService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func newCSRFToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("csrf token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
