package postgres

import (
	"context"
	"fmt"

	"MigrationDashboard/internal/domain"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ActivityStore struct {
	pool *pgxpool.Pool
}

func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

func (s *ActivityStore) RecordActivity(ctx context.Context, a domain.Activity) error {
	const q = `
		INSERT INTO activity_log (user_id, action, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, q, nullIfEmpty(a.UserID), string(a.Action), nullIfEmpty(a.IP), nullIfEmpty(a.UserAgent), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// ListActivity returns the newest entries first.
func (s *ActivityStore) ListActivity(ctx context.Context, limit, offset int) ([]domain.Activity, error) {
	const q = `
		SELECT id, user_id, action, ip, user_agent, created_at
		FROM activity_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Activity, 0, limit)
	for rows.Next() {
		var (
			a      domain.Activity
			userID pgtype.UUID
			action string
			ip     pgtype.Text
			ua     pgtype.Text
		)
		if err := rows.Scan(&a.ID, &userID, &action, &ip, &ua, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.UserID = uuidOrEmpty(userID)
		a.Action = domain.ActivityAction(action)
		a.IP = textOrEmpty(ip)
		a.UserAgent = textOrEmpty(ua)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list activity rows: %w", err)
	}
	return out, nil
}
