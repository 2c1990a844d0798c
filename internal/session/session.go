// Package session holds the request-scoped server-side session used by the
// authenticator. Session state is a typed struct persisted through a Store.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// Data is the auth state kept for one browser session.
type Data struct {
	UserID        string    `json:"user_id,omitempty"`
	DisplayName   string    `json:"display_name,omitempty"`
	Email         string    `json:"email,omitempty"`
	Username      string    `json:"username,omitempty"`
	Role          string    `json:"role,omitempty"`
	Authenticated bool      `json:"authenticated"`
	LoginTime     time.Time `json:"login_time,omitempty"`
	CSRFToken     string    `json:"csrf_token,omitempty"`
}

// Store persists session data by ID. Load returns ErrNotFound for unknown or
// expired sessions; Delete of a missing ID is not an error.
type Store interface {
	Load(ctx context.Context, id string) (Data, error)
	Save(ctx context.Context, id string, data Data, expiresAt time.Time) error
	Delete(ctx context.Context, id string) error
}

type Manager struct {
	Store Store
	TTL   time.Duration
	Now   func() time.Time
	NewID func() string
}

func NewManager(store Store, ttl time.Duration) *Manager {
	return &Manager{Store: store, TTL: ttl}
}

// Load returns the stored session for id, or a fresh anonymous session when id
// is empty, unknown or unreadable. The fresh session is not persisted until
// Save or Regenerate.
func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	if id != "" {
		data, err := m.Store.Load(ctx, id)
		switch {
		case err == nil:
			return &Session{manager: m, id: id, data: data, persisted: true}, nil
		case !errors.Is(err, ErrNotFound):
			return m.anonymous(), fmt.Errorf("load session: %w", err)
		}
	}
	return m.anonymous(), nil
}

func (m *Manager) anonymous() *Session {
	return &Session{manager: m, id: m.newID()}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) newID() string {
	if m.NewID != nil {
		return m.NewID()
	}
	return uuid.NewString()
}

// Session is not safe for concurrent use; it belongs to a single request.
type Session struct {
	manager   *Manager
	id        string
	data      Data
	persisted bool
	destroyed bool
}

func (s *Session) ID() string { return s.id }

func (s *Session) Data() Data { return s.data }

func (s *Session) Authenticated() bool {
	return s.data.Authenticated && s.data.UserID != ""
}

// Persisted reports whether the session exists in the store.
func (s *Session) Persisted() bool { return s.persisted }

func (s *Session) Destroyed() bool { return s.destroyed }

func (s *Session) Update(fn func(*Data)) {
	fn(&s.data)
}

func (s *Session) Save(ctx context.Context) error {
	expiresAt := s.manager.now().Add(s.manager.TTL)
	if err := s.manager.Store.Save(ctx, s.id, s.data, expiresAt); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.persisted = true
	s.destroyed = false
	return nil
}

// Regenerate moves the session data to a new ID and drops the old entry.
func (s *Session) Regenerate(ctx context.Context) error {
	oldID := s.id
	wasPersisted := s.persisted

	s.id = s.manager.newID()
	if err := s.Save(ctx); err != nil {
		s.id = oldID
		s.persisted = wasPersisted
		return err
	}
	if wasPersisted {
		if err := s.manager.Store.Delete(ctx, oldID); err != nil {
			return fmt.Errorf("delete old session: %w", err)
		}
	}
	return nil
}

// Destroy clears the data and removes the store entry. Destroying an already
// destroyed or never persisted session is a no-op.
func (s *Session) Destroy(ctx context.Context) error {
	s.data = Data{}
	if s.destroyed || !s.persisted {
		s.destroyed = true
		s.persisted = false
		return nil
	}
	s.destroyed = true
	s.persisted = false
	if err := s.manager.Store.Delete(ctx, s.id); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

type ctxKey struct{}

func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
