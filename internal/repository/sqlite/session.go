package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
)

const defaultSessionLimit = 50

func (db *DB) CreateSession(ctx context.Context, session *model.Session) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	return wrapErr("creating session", insertSession(ctx, db.conn, session))
}

func insertSession(ctx context.Context, ex execer, session *model.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.Active = true
	_, err := ex.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, session, created_at, active) VALUES (?, ?, ?, ?, 1)`,
		session.ID, session.UserID, session.Token, toMillis(session.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// ListSessions returns the user's sessions, newest first.
func (db *DB) ListSessions(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Session, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSessionLimit
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, session, created_at, active FROM sessions
		 WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		userID, limit, opts.Offset,
	)
	if err != nil {
		return nil, wrapErr("listing sessions", err)
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		var (
			s         model.Session
			createdAt int64
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.Token, &createdAt, &s.Active); err != nil {
			return nil, wrapErr("scanning session", err)
		}
		s.CreatedAt = fromMillis(createdAt)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating sessions", err)
	}
	return sessions, nil
}
