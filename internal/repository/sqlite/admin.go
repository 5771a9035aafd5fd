package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/naqwa/academy/internal/apperror"
	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
)

func (db *DB) GetAdminByPhone(ctx context.Context, phone string) (*model.Admin, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	var (
		a         model.Admin
		password  string
		createdAt int64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, phone_number, password, role, account_status, created_at
		 FROM admins WHERE phone_number = ?`,
		phone,
	).Scan(&a.ID, &a.Name, &a.PhoneNumber, &password, &a.Role, &a.AccountStatus, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("admin", phone)
		}
		return nil, wrapErr("getting admin", err)
	}
	a.Password = model.ParseCredential(password)
	a.CreatedAt = fromMillis(createdAt)
	return &a, nil
}

func (db *DB) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	repository.PrepareAdmin(admin)

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO admins (id, name, phone_number, password, role, account_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		admin.ID,
		admin.Name,
		admin.PhoneNumber,
		admin.Password.Value,
		admin.Role,
		admin.AccountStatus,
		toMillis(admin.CreatedAt),
	)
	if err != nil {
		if column, ok := uniqueViolation(err); ok {
			return apperror.AlreadyExists(column, column+" already registered")
		}
		return wrapErr("creating admin", err)
	}
	return nil
}

func (db *DB) UpdateAdminPassword(ctx context.Context, phone string, cred model.Credential) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE admins SET password = ? WHERE phone_number = ?`, cred.Value, phone,
	)
	if err != nil {
		return wrapErr("updating admin password", err)
	}
	return requireRow(res, "admin", phone)
}
