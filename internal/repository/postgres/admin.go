package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/naqwa/academy/internal/apperror"
	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
)

func (s *Store) GetAdminByPhone(ctx context.Context, phone string) (*model.Admin, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		a        model.Admin
		password string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, phone_number, password, role, account_status, created_at
		 FROM admins WHERE phone_number = $1`,
		phone,
	).Scan(&a.ID, &a.Name, &a.PhoneNumber, &password, &a.Role, &a.AccountStatus, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("admin", phone)
		}
		return nil, wrapErr("getting admin", err)
	}
	a.Password = model.ParseCredential(password)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (s *Store) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repository.PrepareAdmin(admin)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO admins (id, name, phone_number, password, role, account_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		admin.ID, admin.Name, admin.PhoneNumber, admin.Password.Value,
		admin.Role, admin.AccountStatus, admin.CreatedAt,
	)
	if err != nil {
		if column, ok := uniqueViolation(err); ok {
			return apperror.AlreadyExists(column, column+" already registered")
		}
		return wrapErr("creating admin", err)
	}
	return nil
}

func (s *Store) UpdateAdminPassword(ctx context.Context, phone string, cred model.Credential) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `UPDATE admins SET password = $1 WHERE phone_number = $2`, cred.Value, phone)
	if err != nil {
		return wrapErr("updating admin password", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("admin", phone)
	}
	return nil
}
