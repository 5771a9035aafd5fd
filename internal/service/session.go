package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// SessionRegistry keeps an append-only record of issued tokens. It is never
// consulted when a token is verified.
type SessionRegistry struct {
	repo   repository.SessionRepository
	logger zerolog.Logger
}

func NewSessionRegistry(repo repository.SessionRepository, logger zerolog.Logger) *SessionRegistry {
	return &SessionRegistry{
		repo:   repo,
		logger: logger.With().Str("component", "sessions").Logger(),
	}
}

// Record appends a session row. A failure is logged and otherwise ignored:
// the caller already holds a valid token.
func (r *SessionRegistry) Record(ctx context.Context, userID, token string, issuedAt time.Time) {
	s := &model.Session{UserID: userID, Token: token, CreatedAt: issuedAt, Active: true}
	if err := r.repo.CreateSession(ctx, s); err != nil {
		r.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to record session")
	}
}

// clampList bounds Limit to [1, MaxListLimit] and turns a negative offset
// into zero.
func clampList(opts repository.ListOptions) repository.ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Limit > MaxListLimit {
		opts.Limit = MaxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}

// List returns a user's sessions, newest first.
func (r *SessionRegistry) List(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Session, error) {
	sessions, err := r.repo.ListSessions(ctx, userID, clampList(opts))
	if err != nil {
		return nil, fmt.Errorf("service/sessions: listing for %s: %w", userID, err)
	}
	return sessions, nil
}
