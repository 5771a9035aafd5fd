package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/xid"

	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
)

// ReplaceActiveOTP takes a transaction-scoped advisory lock on the email so
// concurrent issuers for the same address queue up, then retires, inserts
// and retires again.
func (s *Store) ReplaceActiveOTP(ctx context.Context, otp *model.OTPCode) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if otp.ID == "" {
		otp.ID = xid.New().String()
	}
	if otp.CreatedAt.IsZero() {
		otp.CreatedAt = time.Now()
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, otp.Email); err != nil {
			return fmt.Errorf("locking email: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE otp_codes SET used = TRUE WHERE email = $1 AND used = FALSE`, otp.Email,
		); err != nil {
			return fmt.Errorf("retiring codes: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO otp_codes (id, email, code, expires_at, created_at, used)
			 VALUES ($1, $2, $3, $4, $5, FALSE)`,
			otp.ID, otp.Email, otp.Code, otp.ExpiresAt, otp.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting code: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE otp_codes SET used = TRUE WHERE email = $1 AND used = FALSE AND id <> $2`,
			otp.Email, otp.ID,
		); err != nil {
			return fmt.Errorf("retiring concurrent codes: %w", err)
		}
		return nil
	})
	return wrapErr("replacing otp", err)
}

func (s *Store) ConsumeOTP(ctx context.Context, email, code string, now time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return wrapErr("consuming otp", consumeOTP(ctx, s.pool, email, code, now))
}

func consumeOTP(ctx context.Context, q querier, email, code string, now time.Time) error {
	tag, err := q.Exec(ctx,
		`UPDATE otp_codes SET used = TRUE
		 WHERE email = $1 AND code = $2 AND used = FALSE AND expires_at > $3`,
		email, code, now,
	)
	if err != nil {
		return fmt.Errorf("updating code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrOTPInvalid
	}
	return nil
}

func (s *Store) PurgeSpentOTPs(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM otp_codes WHERE (used AND created_at < $1) OR expires_at < $1`, before,
	)
	if err != nil {
		return 0, wrapErr("purging otp codes", err)
	}
	return tag.RowsAffected(), nil
}
