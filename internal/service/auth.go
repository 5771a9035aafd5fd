// Package service holds the business rules between the HTTP handlers and
// the repositories.
//
//	handler → AuthService    → UserRepository, AdminRepository
//	                         ↘ PasswordService, TokenService, OTPService
//	                         ↘ SessionRegistry
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/naqwa/academy/internal/apperror"
	"github.com/naqwa/academy/internal/auth"
	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgOneIdentifier      = "Either phone_number or email must be provided"
	msgPhoneTaken         = "Phone number already registered. Please use a different phone number or login."
	msgEmailTaken         = "Email already registered. Please use a different email or login."
	msgUserNotFound       = "User not found. Please check your phone number or email address."
)

// AuthService authenticates students and admins and hands out session tokens.
type AuthService struct {
	users     repository.UserRepository
	admins    repository.AdminRepository
	otps      *OTPService
	sessions  *SessionRegistry
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    zerolog.Logger
	now       func() time.Time
}

// AuthDeps are the collaborators of AuthService.
type AuthDeps struct {
	Users     repository.UserRepository
	Admins    repository.AdminRepository
	OTPs      *OTPService
	Sessions  *SessionRegistry
	Tokens    *auth.TokenService
	Passwords *auth.PasswordService
	Logger    zerolog.Logger
}

func NewAuthService(d AuthDeps) *AuthService {
	return &AuthService{
		users:     d.Users,
		admins:    d.Admins,
		otps:      d.OTPs,
		sessions:  d.Sessions,
		tokens:    d.Tokens,
		passwords: d.Passwords,
		logger:    d.Logger.With().Str("component", "auth").Logger(),
		now:       time.Now,
	}
}

// AuthResult carries a freshly issued bearer token.
type AuthResult struct {
	UserID    string
	Token     string
	ExpiresIn time.Duration
}

type LoginInput struct {
	PhoneNumber string
	Email       string
	Password    string
}

type RegisterInput struct {
	Name         string
	PhoneNumber  string
	Email        string
	ParentNumber string
	Password     string
	BirthDate    string
	Governorate  string
	Grade        string
	Section      string
	LangType     string
}

type ForgotPasswordInput struct {
	PhoneNumber string
	Email       string
	OTP         string
	NewPassword string
}

// Identity is what /verify reports about a token holder.
type Identity struct {
	UserID    string
	Role      model.Role
	CreatedAt string
	Name      string
}

// identifier picks exactly one of phone or email and normalizes it.
type identifier struct {
	phone string
	email string
}

func parseIdentifier(phone, email string) (identifier, error) {
	hasPhone, hasEmail := present(phone), present(email)
	if hasPhone == hasEmail {
		return identifier{}, apperror.ValidationFailed("phone_number", msgOneIdentifier)
	}
	if hasPhone {
		p, err := NormalizePhone(phone, "phone_number")
		return identifier{phone: p}, err
	}
	e, err := NormalizeEmail(email)
	return identifier{email: e}, err
}

func (id identifier) lookup(ctx context.Context, users repository.UserRepository) (*model.User, error) {
	if id.phone != "" {
		return users.GetUserByPhone(ctx, id.phone)
	}
	return users.GetUserByEmail(ctx, id.email)
}

// Login checks a student's password. An unknown identity and a wrong
// password are indistinguishable to the caller, in message and in timing.
// A legacy plaintext password that verifies is re-hashed on the spot.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	id, err := parseIdentifier(in.PhoneNumber, in.Email)
	if err != nil {
		return nil, err
	}
	if in.Password == "" {
		return nil, apperror.ValidationFailed("password", "Password is required")
	}

	user, err := id.lookup(ctx, s.users)
	if errors.Is(err, apperror.ErrNotFound) {
		s.passwords.VerifyMissing(in.Password)
		s.logger.Info().Msg("login failed: unknown identity")
		return nil, apperror.Unauthorized(msgInvalidCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if !s.passwords.Verify(in.Password, user.Password) {
		s.logger.Info().Str("user_id", user.ID).Msg("login failed: wrong password")
		return nil, apperror.Unauthorized(msgInvalidCredentials)
	}

	if user.Password.IsLegacy() {
		s.upgradeCredential(ctx, user.ID, in.Password)
	}

	token, err := s.tokens.Issue(user.ID, user.CreatedAt, model.RoleUser)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for %s: %w", user.ID, err)
	}
	s.sessions.Record(ctx, user.ID, token, s.now())

	s.logger.Info().Str("user_id", user.ID).Msg("login successful")
	return &AuthResult{UserID: user.ID, Token: token, ExpiresIn: s.tokens.TTL()}, nil
}

// upgradeCredential replaces a verified legacy password with its bcrypt
// hash. Failure only costs the upgrade; the login still succeeds.
func (s *AuthService) upgradeCredential(ctx context.Context, userID, plaintext string) {
	digest, err := s.passwords.Hash(plaintext)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("legacy password not upgraded")
		return
	}
	if err := s.users.UpdatePassword(ctx, userID, model.HashedCredential(digest)); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("legacy password not upgraded")
		return
	}
	s.logger.Info().Str("user_id", userID).Msg("legacy password upgraded")
}

// Register validates a new student, stores it and returns its first token.
// The user row and its session row are written in one transaction.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	var missing requiredFields
	missing.check("name", present(in.Name))
	missing.check("phone_number", present(in.PhoneNumber))
	missing.check("password", in.Password != "")
	missing.check("parent_number", present(in.ParentNumber))
	missing.check("birth_date", present(in.BirthDate))
	missing.check("governorate", present(in.Governorate))
	missing.check("grade", oneOf(in.Grade, validGrades))
	missing.check("section", oneOf(in.Section, validSections))
	missing.check("lang_type", oneOf(in.LangType, validLangTypes))
	if err := missing.err(); err != nil {
		return nil, err
	}

	phone, err := NormalizePhone(in.PhoneNumber, "phone_number")
	if err != nil {
		return nil, err
	}
	parent, err := NormalizePhone(in.ParentNumber, "parent_number")
	if err != nil {
		return nil, err
	}
	governorate, err := NormalizeGovernorate(in.Governorate, "governorate")
	if err != nil {
		return nil, err
	}
	var email string
	if present(in.Email) {
		if email, err = NormalizeEmail(in.Email); err != nil {
			return nil, err
		}
	}
	birthDate, err := parseBirthDate(in.BirthDate)
	if err != nil {
		return nil, err
	}

	digest, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Name:         in.Name,
		PhoneNumber:  phone,
		Email:        email,
		ParentNumber: parent,
		BirthDate:    birthDate,
		Governorate:  governorate,
		Password:     model.HashedCredential(digest),
		Grade:        in.Grade,
		Section:      in.Section,
		LangType:     in.LangType,
		CreatedAt:    s.now(),
	}

	session, err := s.users.CreateUserWithSession(ctx, user, func(u *model.User) (string, error) {
		return s.tokens.Issue(u.ID, u.CreatedAt, model.RoleUser)
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && errors.Is(err, apperror.ErrConflict) {
			s.logger.Info().Str("field", appErr.Field).Msg("registration rejected: duplicate")
			if appErr.Field == "email" {
				return nil, apperror.AlreadyExists("email", msgEmailTaken)
			}
			return nil, apperror.AlreadyExists("phone_number", msgPhoneTaken)
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info().Str("user_id", user.ID).Msg("user registered")
	return &AuthResult{UserID: user.ID, Token: session.Token, ExpiresIn: s.tokens.TTL()}, nil
}

// ForgotPassword sets a new password. By email, the OTP is consumed and the
// password replaced in one transaction. By phone, no OTP is checked.
func (s *AuthService) ForgotPassword(ctx context.Context, in ForgotPasswordInput) error {
	id, err := parseIdentifier(in.PhoneNumber, in.Email)
	if err != nil {
		return err
	}
	if !present(in.OTP) {
		return apperror.ValidationFailed("otp", "OTP is required")
	}
	if in.NewPassword == "" {
		return apperror.ValidationFailed("new_password", "New password is required")
	}

	user, err := id.lookup(ctx, s.users)
	if errors.Is(err, apperror.ErrNotFound) {
		return apperror.NotFoundMessage(msgUserNotFound)
	}
	if err != nil {
		return fmt.Errorf("service/auth: looking up user: %w", err)
	}

	digest, err := s.passwords.Hash(in.NewPassword)
	if err != nil {
		return err
	}
	cred := model.HashedCredential(digest)

	if id.email != "" {
		err := s.users.ResetPasswordWithOTP(ctx, user.ID, id.email, in.OTP, cred, s.now())
		if errors.Is(err, repository.ErrOTPInvalid) {
			s.logger.Info().Str("user_id", user.ID).Msg("password reset rejected: bad otp")
			return errOTPInvalid
		}
		if err != nil {
			return fmt.Errorf("service/auth: resetting password: %w", err)
		}
	} else {
		if err := s.users.UpdatePassword(ctx, user.ID, cred); err != nil {
			return fmt.Errorf("service/auth: resetting password: %w", err)
		}
		s.logger.Warn().Str("user_id", user.ID).Msg("password reset by phone without otp")
	}

	s.logger.Info().Str("user_id", user.ID).Msg("password updated")
	return nil
}

// AdminLogin authenticates against the admins table. No session is
// recorded and legacy passwords are not upgraded.
func (s *AuthService) AdminLogin(ctx context.Context, phone, password string) (*AuthResult, error) {
	if !present(phone) || password == "" {
		return nil, apperror.ValidationFailed("phone_number", "Phone number and password are required")
	}
	phone, err := NormalizePhone(phone, "phone_number")
	if err != nil {
		return nil, err
	}

	admin, err := s.admins.GetAdminByPhone(ctx, phone)
	if errors.Is(err, apperror.ErrNotFound) {
		s.passwords.VerifyMissing(password)
		return nil, apperror.Unauthorized(msgInvalidCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up admin: %w", err)
	}
	if !s.passwords.Verify(password, admin.Password) {
		s.logger.Info().Str("admin_id", admin.ID).Msg("admin login failed: wrong password")
		return nil, apperror.Unauthorized(msgInvalidCredentials)
	}

	role := model.RoleAdmin
	if admin.Role != "" {
		if role, err = model.ParseRole(admin.Role); err != nil {
			return nil, fmt.Errorf("service/auth: admin %s: %w", admin.ID, err)
		}
	}

	token, err := s.tokens.Issue(admin.ID, admin.CreatedAt, role)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for admin %s: %w", admin.ID, err)
	}
	s.logger.Info().Str("admin_id", admin.ID).Msg("admin login successful")
	return &AuthResult{UserID: admin.ID, Token: token, ExpiresIn: s.tokens.TTL()}, nil
}

// SendOTP issues a code for a password reset by email.
func (s *AuthService) SendOTP(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	_, err = s.otps.Issue(ctx, email)
	return err
}

// OTPTTL is how long a code from SendOTP stays valid.
func (s *AuthService) OTPTTL() time.Duration {
	return s.otps.TTL()
}

// VerifyOTP consumes a code without changing anything else.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if !present(code) {
		return apperror.ValidationFailed("otp", "OTP is required")
	}
	return s.otps.Consume(ctx, email, code)
}

// Identify describes the holder of verified claims. Name is looked up for
// students only and left empty when the account is gone.
func (s *AuthService) Identify(ctx context.Context, claims *auth.Claims) (*Identity, error) {
	id := &Identity{UserID: claims.UserID, Role: claims.Role, CreatedAt: claims.CreatedAt}

	switch claims.Role {
	case model.RoleUser:
		user, err := s.users.GetUserByID(ctx, claims.UserID)
		switch {
		case err == nil:
			id.Name = user.Name
		case errors.Is(err, apperror.ErrNotFound):
		default:
			return nil, fmt.Errorf("service/auth: identifying %s: %w", claims.UserID, err)
		}
	case model.RoleAdmin:
	}
	return id, nil
}
