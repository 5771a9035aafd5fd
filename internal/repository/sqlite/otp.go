package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
)

// ReplaceActiveOTP retires the email's unused codes, inserts otp, then runs
// a second retirement pass over every other unused row for the email. The
// single pooled connection already serializes concurrent issuers; the second
// pass keeps the at-most-one-active rule even if that ever changes.
func (db *DB) ReplaceActiveOTP(ctx context.Context, otp *model.OTPCode) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	if otp.ID == "" {
		otp.ID = xid.New().String()
	}
	if otp.CreatedAt.IsZero() {
		otp.CreatedAt = time.Now()
	}

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE otp_codes SET used = 1 WHERE email = ? AND used = 0`, otp.Email,
		); err != nil {
			return fmt.Errorf("retiring codes: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO otp_codes (id, email, code, expires_at, created_at, used)
			 VALUES (?, ?, ?, ?, ?, 0)`,
			otp.ID, otp.Email, otp.Code, toMillis(otp.ExpiresAt), toMillis(otp.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting code: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE otp_codes SET used = 1 WHERE email = ? AND used = 0 AND id <> ?`,
			otp.Email, otp.ID,
		); err != nil {
			return fmt.Errorf("retiring concurrent codes: %w", err)
		}
		return nil
	})
	return wrapErr("replacing otp", err)
}

func (db *DB) ConsumeOTP(ctx context.Context, email, code string, now time.Time) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	return wrapErr("consuming otp", consumeOTP(ctx, db.conn, email, code, now))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// consumeOTP is a single conditional UPDATE, so two concurrent consumers
// cannot both see a row affected.
func consumeOTP(ctx context.Context, ex execer, email, code string, now time.Time) error {
	res, err := ex.ExecContext(ctx,
		`UPDATE otp_codes SET used = 1
		 WHERE email = ? AND code = ? AND used = 0 AND expires_at > ?`,
		email, code, toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("updating code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrOTPInvalid
	}
	return nil
}

func (db *DB) PurgeSpentOTPs(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	cutoff := toMillis(before)
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM otp_codes
		 WHERE (used = 1 AND created_at < ?) OR expires_at < ?`,
		cutoff, cutoff,
	)
	if err != nil {
		return 0, wrapErr("purging otp codes", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("purging otp codes", err)
	}
	return n, nil
}
