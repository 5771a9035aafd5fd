// Package repository declares the storage contracts the services depend on.
//
// Implementations live in subpackages (sqlite, postgres). Each one owns its
// transaction boundaries: a method that touches several tables commits or
// rolls back all of them.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/naqwa/academy/internal/model"
)

// ErrOTPInvalid is returned when no unused, unexpired code matches the
// submitted email and code. Wrong, expired and already used codes are not
// told apart.
var ErrOTPInvalid = errors.New("repository: otp invalid or expired")

type ListOptions struct {
	Limit  int
	Offset int
}

// TokenMinter builds the session token for a freshly inserted user. It runs
// inside the insert transaction, after ID and CreatedAt are final.
type TokenMinter func(user *model.User) (string, error)

type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// CreateUserWithSession inserts user and the session row for the token
	// returned by mint in a single transaction.
	CreateUserWithSession(ctx context.Context, user *model.User, mint TokenMinter) (*model.Session, error)
	UpdatePassword(ctx context.Context, userID string, cred model.Credential) error
	// ResetPasswordWithOTP consumes the code for email and replaces the
	// user's password atomically. A code that cannot be consumed yields
	// ErrOTPInvalid and leaves the password unchanged.
	ResetPasswordWithOTP(ctx context.Context, userID, email, code string, cred model.Credential, now time.Time) error
	// UpdateUser rewrites every column of user except id, password and
	// created_at. A taken phone number or email yields a conflict error.
	UpdateUser(ctx context.Context, user *model.User) error
	// ListUsers returns users oldest first.
	ListUsers(ctx context.Context, opts ListOptions) ([]model.User, error)
	// DeleteUser removes the user together with its session rows.
	DeleteUser(ctx context.Context, id string) error
}

type AdminRepository interface {
	GetAdminByPhone(ctx context.Context, phone string) (*model.Admin, error)
	CreateAdmin(ctx context.Context, admin *model.Admin) error
	UpdateAdminPassword(ctx context.Context, phone string, cred model.Credential) error
}

type OTPRepository interface {
	// ReplaceActiveOTP retires every unused code for otp.Email and stores
	// otp as the only active one.
	ReplaceActiveOTP(ctx context.Context, otp *model.OTPCode) error
	ConsumeOTP(ctx context.Context, email, code string, now time.Time) error
	// PurgeSpentOTPs deletes codes that were used, or expired, before the
	// given time and reports how many rows went away.
	PurgeSpentOTPs(ctx context.Context, before time.Time) (int64, error)
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *model.Session) error
	ListSessions(ctx context.Context, userID string, opts ListOptions) ([]model.Session, error)
}

type SettingsRepository interface {
	// GetSetting reports ok == false when the key has never been written.
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	PutSetting(ctx context.Context, key, value string) error
}

// Store is everything a backing database provides.
type Store interface {
	UserRepository
	AdminRepository
	OTPRepository
	SessionRepository
	SettingsRepository
	Close() error
}
