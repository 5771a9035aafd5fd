package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
)

const defaultSessionLimit = 50

func (s *Store) CreateSession(ctx context.Context, session *model.Session) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return wrapErr("creating session", insertSession(ctx, s.pool, session))
}

func insertSession(ctx context.Context, q querier, session *model.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.Active = true
	_, err := q.Exec(ctx,
		`INSERT INTO sessions (id, user_id, session, created_at, active) VALUES ($1, $2, $3, $4, TRUE)`,
		session.ID, session.UserID, session.Token, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSessionLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, session, created_at, active FROM sessions
		 WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		userID, limit, opts.Offset,
	)
	if err != nil {
		return nil, wrapErr("listing sessions", err)
	}

	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Session, error) {
		var sess model.Session
		err := row.Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.CreatedAt, &sess.Active)
		sess.CreatedAt = sess.CreatedAt.UTC()
		return sess, err
	})
	if err != nil {
		return nil, wrapErr("scanning sessions", err)
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}
