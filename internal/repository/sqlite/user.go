package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/naqwa/academy/internal/apperror"
	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
)

const (
	birthDateLayout  = "2006-01-02"
	defaultUserLimit = 50
)

const userColumns = `id, name, phone_number, email, parent_number, birth_date, governorate,
	password, role, account_status, grade, section, lang_type, points, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u         model.User
		email     sql.NullString
		birthDate string
		password  string
		createdAt int64
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
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	u.Password = model.ParseCredential(password)
	u.CreatedAt = fromMillis(createdAt)
	if birthDate != "" {
		if t, err := time.Parse(birthDateLayout, birthDate); err == nil {
			u.BirthDate = t
		}
	}
	return &u, nil
}

func (db *DB) getUser(ctx context.Context, op, where, arg string) (*model.User, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where+` = ?`, arg,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", arg)
		}
		return nil, wrapErr(op, err)
	}
	return u, nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUser(ctx, "getting user by id", "id", id)
}

func (db *DB) GetUserByPhone(ctx context.Context, phone string) (*model.User, error) {
	return db.getUser(ctx, "getting user by phone", "phone_number", phone)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUser(ctx, "getting user by email", "email", email)
}

// CreateUserWithSession assigns the user's ID, fills defaults, inserts the
// row, mints the token and records the session, all in one transaction.
func (db *DB) CreateUserWithSession(ctx context.Context, user *model.User, mint repository.TokenMinter) (*model.Session, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	repository.PrepareUser(user)

	var session *model.Session
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, name, phone_number, email, parent_number, birth_date, governorate,
				password, role, account_status, grade, section, lang_type, points, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			user.ID,
			user.Name,
			user.PhoneNumber,
			nullIfEmpty(user.Email),
			user.ParentNumber,
			formatBirthDate(user.BirthDate),
			user.Governorate,
			user.Password.Value,
			user.Role,
			user.AccountStatus,
			user.Grade,
			user.Section,
			user.LangType,
			user.Points,
			toMillis(user.CreatedAt),
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

func (db *DB) UpdatePassword(ctx context.Context, userID string, cred model.Credential) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password = ? WHERE id = ?`, cred.Value, userID,
	)
	if err != nil {
		return wrapErr("updating password", err)
	}
	return requireRow(res, "user", userID)
}

// ResetPasswordWithOTP consumes the code and writes the new password in the
// same transaction.
func (db *DB) ResetPasswordWithOTP(ctx context.Context, userID, email, code string, cred model.Credential, now time.Time) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if err := consumeOTP(ctx, tx, email, code, now); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET password = ? WHERE id = ?`, cred.Value, userID,
		)
		if err != nil {
			return fmt.Errorf("updating password: %w", err)
		}
		return requireRow(res, "user", userID)
	})
	return wrapErr("resetting password", err)
}

func (db *DB) UpdateUser(ctx context.Context, user *model.User) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET name = ?, phone_number = ?, email = ?, parent_number = ?, birth_date = ?,
			governorate = ?, role = ?, account_status = ?, grade = ?, section = ?, lang_type = ?, points = ?
		 WHERE id = ?`,
		user.Name,
		user.PhoneNumber,
		nullIfEmpty(user.Email),
		user.ParentNumber,
		formatBirthDate(user.BirthDate),
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
	return requireRow(res, "user", user.ID)
}

func (db *DB) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultUserLimit
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id LIMIT ? OFFSET ?`,
		limit, opts.Offset,
	)
	if err != nil {
		return nil, wrapErr("listing users", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrapErr("scanning user", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating users", err)
	}
	return users, nil
}

// DeleteUser drops the session rows first; sessions.user_id is a foreign key.
func (db *DB) DeleteUser(ctx context.Context, id string) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, id); err != nil {
			return fmt.Errorf("deleting sessions: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting user: %w", err)
		}
		return requireRow(res, "user", id)
	})
	return wrapErr("deleting user", err)
}

func formatBirthDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(birthDateLayout)
}

func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
