package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/naqwa/academy/internal/apperror"
	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
)

const defaultUserLimit = 50

const userColumns = `id, name, phone_number, email, parent_number, birth_date, governorate,
	password, role, account_status, grade, section, lang_type, points, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u         model.User
		email     *string
		birthDate *time.Time
		password  string
	)
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.PhoneNumber,
		&email,
		&u.ParentNumber,
		&birthDate,
		&u.Governorate,
		&password,
		&u.Role,
		&u.AccountStatus,
		&u.Grade,
		&u.Section,
		&u.LangType,
		&u.Points,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if email != nil {
		u.Email = *email
	}
	if birthDate != nil {
		u.BirthDate = *birthDate
	}
	u.Password = model.ParseCredential(password)
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (s *Store) getUser(ctx context.Context, op, where, arg string) (*model.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where+` = $1`, arg,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", arg)
		}
		return nil, wrapErr(op, err)
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.getUser(ctx, "getting user by id", "id", id)
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*model.User, error) {
	return s.getUser(ctx, "getting user by phone", "phone_number", phone)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUser(ctx, "getting user by email", "email", email)
}

func (s *Store) CreateUserWithSession(ctx context.Context, user *model.User, mint repository.TokenMinter) (*model.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repository.PrepareUser(user)

	var session *model.Session
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO users (id, name, phone_number, email, parent_number, birth_date, governorate,
				password, role, account_status, grade, section, lang_type, points, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			user.ID,
			user.Name,
			user.PhoneNumber,
			nullIfEmpty(user.Email),
			user.ParentNumber,
			nullIfZero(user.BirthDate),
			user.Governorate,
			user.Password.Value,
			user.Role,
			user.AccountStatus,
			user.Grade,
			user.Section,
			user.LangType,
			user.Points,
			user.CreatedAt,
		)
		if err != nil {
			if column, ok := uniqueViolation(err); ok {
				return apperror.AlreadyExists(column, column+" already registered")
			}
			return fmt.Errorf("inserting user: %w", err)
		}

		token, err := mint(user)
		if err != nil {
			return fmt.Errorf("minting token: %w", err)
		}

		session = &model.Session{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			Token:     token,
			CreatedAt: user.CreatedAt,
			Active:    true,
		}
		return insertSession(ctx, tx, session)
	})
	if err != nil {
		return nil, wrapErr("creating user", err)
	}
	return session, nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID string, cred model.Credential) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `UPDATE users SET password = $1 WHERE id = $2`, cred.Value, userID)
	if err != nil {
		return wrapErr("updating password", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

func (s *Store) ResetPasswordWithOTP(ctx context.Context, userID, email, code string, cred model.Credential, now time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := consumeOTP(ctx, tx, email, code, now); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE users SET password = $1 WHERE id = $2`, cred.Value, userID)
		if err != nil {
			return fmt.Errorf("updating password: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperror.NotFound("user", userID)
		}
		return nil
	})
	return wrapErr("resetting password", err)
}

func (s *Store) UpdateUser(ctx context.Context, user *model.User) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET name = $1, phone_number = $2, email = $3, parent_number = $4, birth_date = $5,
			governorate = $6, role = $7, account_status = $8, grade = $9, section = $10, lang_type = $11, points = $12
		 WHERE id = $13`,
		user.Name,
		user.PhoneNumber,
		nullIfEmpty(user.Email),
		user.ParentNumber,
		nullIfZero(user.BirthDate),
		user.Governorate,
		user.Role,
		user.AccountStatus,
		user.Grade,
		user.Section,
		user.LangType,
		user.Points,
		user.ID,
	)
	if err != nil {
		if column, ok := uniqueViolation(err); ok {
			return apperror.AlreadyExists(column, column+" already registered")
		}
		return wrapErr("updating user", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultUserLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id LIMIT $1 OFFSET $2`,
		limit, opts.Offset,
	)
	if err != nil {
		return nil, wrapErr("listing users", err)
	}

	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.User, error) {
		u, err := scanUser(row)
		if err != nil {
			return model.User{}, err
		}
		return *u, nil
	})
	if err != nil {
		return nil, wrapErr("scanning users", err)
	}
	if users == nil {
		users = []model.User{}
	}
	return users, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, id); err != nil {
			return fmt.Errorf("deleting sessions: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("deleting user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperror.NotFound("user", id)
		}
		return nil
	})
	return wrapErr("deleting user", err)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
