package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"MigrationDashboard/internal/session"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionsStore persists session payloads as jsonb keyed by the opaque
// session ID.
type SessionsStore struct {
	pool *pgxpool.Pool
}

func NewSessionsStore(pool *pgxpool.Pool) *SessionsStore {
	return &SessionsStore{pool: pool}
}

func (s *SessionsStore) Load(ctx context.Context, id string) (session.Data, error) {
	const q = `
		SELECT data
		FROM sessions
		WHERE id = $1 AND expires_at > now()
	`

	var raw []byte
	err := s.pool.QueryRow(ctx, q, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Data{}, session.ErrNotFound
		}
		return session.Data{}, fmt.Errorf("load session: %w", err)
	}

	var data session.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return session.Data{}, fmt.Errorf("decode session: %w", err)
	}
	return data, nil
}

func (s *SessionsStore) Save(ctx context.Context, id string, data session.Data, expiresAt time.Time) error {
	const q = `
		INSERT INTO sessions (id, data, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at, updated_at = now()
	`

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if _, err := s.pool.Exec(ctx, q, id, raw, expiresAt); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SessionsStore) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM sessions WHERE id = $1`

	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions whose expiry is before now and reports how
// many were dropped.
func (s *SessionsStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM sessions WHERE expires_at <= $1`

	tag, err := s.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
