// Package sqlite implements the repository interfaces on top of SQLite.
//
// The driver is modernc.org/sqlite (pure Go, no cgo). The pool is pinned to a
// single connection: SQLite serializes writers anyway, and ":memory:"
// databases exist per connection. Inside a transaction only the *sql.Tx may
// be used, or the call blocks on the pool.
//
// Timestamps are stored as INTEGER unix milliseconds in UTC so that range
// comparisons in SQL are numeric.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/naqwa/academy/internal/apperror"
	"github.com/naqwa/academy/internal/repository"
)

var _ repository.Store = (*DB)(nil)

const defaultTimeout = 5 * time.Second

// DB wraps a sql.DB and implements every repository interface.
type DB struct {
	conn    *sql.DB
	timeout time.Duration
}

type Option func(*DB)

// WithTimeout bounds every repository call. Zero or negative keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(db *DB) {
		if d > 0 {
			db.timeout = d
		}
	}
}

// New opens the database at dbPath (":memory:" for tests) and runs migrations.
func New(dbPath string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed during a write on file databases.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			phone_number   TEXT NOT NULL UNIQUE,
			parent_number  TEXT NOT NULL DEFAULT '',
			birth_date     TEXT NOT NULL DEFAULT '',
			governorate    TEXT NOT NULL DEFAULT '',
			password       TEXT NOT NULL DEFAULT '',
			role           TEXT NOT NULL DEFAULT 'student',
			account_status TEXT NOT NULL DEFAULT 'active',
			grade          TEXT NOT NULL DEFAULT '',
			section        TEXT NOT NULL DEFAULT '',
			lang_type      TEXT NOT NULL DEFAULT '',
			points         INTEGER NOT NULL DEFAULT 0,
			created_at     INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// email came after launch; existing rows keep NULL, which the unique
	// index ignores.
	if err := db.addColumnIfNotExists("users", "email", "TEXT"); err != nil {
		return fmt.Errorf("adding email to users: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);

		CREATE TABLE IF NOT EXISTS admins (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL DEFAULT '',
			phone_number   TEXT NOT NULL UNIQUE,
			password       TEXT NOT NULL DEFAULT '',
			role           TEXT NOT NULL DEFAULT 'admin',
			account_status TEXT NOT NULL DEFAULT 'active',
			created_at     INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS otp_codes (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL,
			code       TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			used       INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_otp_codes_email_used ON otp_codes(email, used);

		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			session    TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			active     INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);

		CREATE TABLE IF NOT EXISTS site_settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}

	return nil
}

// addColumnIfNotExists makes ALTER TABLE ADD COLUMN idempotent.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	if err != nil {
		return fmt.Errorf("altering %s: %w", table, err)
	}
	return nil
}

func (db *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.timeout)
}

// inTx runs fn in a transaction, rolling back on any error.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// wrapErr adds op context and turns deadline or cancellation into
// apperror.Unavailable. Errors that are already *AppError pass through.
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
			fmt.Errorf("sqlite: %s: %w", op, err))
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

// uniqueViolation reports whether err is a UNIQUE constraint failure and,
// if so, which column caused it.
func uniqueViolation(err error) (column string, ok bool) {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return "", false
	}
	if sqliteErr.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return "", false
	}
	const marker = "UNIQUE constraint failed: "
	msg := sqliteErr.Error()
	i := strings.Index(msg, marker)
	if i < 0 {
		return "", false
	}
	rest := msg[i+len(marker):]
	if j := strings.IndexAny(rest, " ,"); j >= 0 {
		rest = rest[:j]
	}
	_, column, _ = strings.Cut(rest, ".")
	return column, true
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
