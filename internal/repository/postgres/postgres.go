// Package postgres implements the repository interfaces on PostgreSQL
// through a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/naqwa/academy/internal/apperror"
	"github.com/naqwa/academy/internal/repository"
)

var _ repository.Store = (*Store)(nil)

const uniqueViolationCode = "23505"

type Config struct {
	DSN             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	// Timeout bounds every repository call.
	Timeout time.Duration
}

type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New connects, pings and migrates.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolConfig.HealthCheckPeriod = 30 * time.Second

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: pgxpool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Store{pool: pool, timeout: timeout}

	if err := s.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			phone_number   TEXT NOT NULL UNIQUE,
			email          TEXT UNIQUE,
			parent_number  TEXT NOT NULL DEFAULT '',
			birth_date     DATE,
			governorate    TEXT NOT NULL DEFAULT '',
			password       TEXT NOT NULL DEFAULT '',
			role           TEXT NOT NULL DEFAULT 'student',
			account_status TEXT NOT NULL DEFAULT 'active',
			grade          TEXT NOT NULL DEFAULT '',
			section        TEXT NOT NULL DEFAULT '',
			lang_type      TEXT NOT NULL DEFAULT '',
			points         INTEGER NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS admins (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL DEFAULT '',
			phone_number   TEXT NOT NULL UNIQUE,
			password       TEXT NOT NULL DEFAULT '',
			role           TEXT NOT NULL DEFAULT 'admin',
			account_status TEXT NOT NULL DEFAULT 'active',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS otp_codes (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL,
			code       TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			used       BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_otp_codes_email_used ON otp_codes(email, used);

		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			session    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			active     BOOLEAN NOT NULL DEFAULT TRUE
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);

		CREATE TABLE IF NOT EXISTS site_settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, fn)
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) || errors.Is(err, repository.ErrOTPInvalid) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperror.Unavailable("The service is temporarily unavailable. Please try again.",
			fmt.Errorf("postgres: %s: %w", op, err))
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

// uniqueViolation maps a 23505 error to the offending column, using the
// default "<table>_<column>_key" constraint names from the schema above.
func uniqueViolation(err error) (column string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationCode {
		return "", false
	}
	column = strings.TrimPrefix(pgErr.ConstraintName, pgErr.TableName+"_")
	column = strings.TrimSuffix(column, "_key")
	return column, true
}
