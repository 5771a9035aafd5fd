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

const DefaultOTPTTL = 5 * time.Minute

var errOTPInvalid = apperror.ValidationFailed("otp", "Invalid or expired OTP code. Please request a new OTP.")

// Mailer delivers a one-time code.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
}

// Cooldown answers whether key may act again, starting a window of the
// given length when it may. Release gives an unused window back.
type Cooldown interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
	Remaining(ctx context.Context, key string) (time.Duration, error)
	Release(ctx context.Context, key string) error
}

type OTPConfig struct {
	TTL time.Duration
	// Cooldown between two issues for the same email. Zero disables it.
	Cooldown time.Duration
}

// OTPService issues and consumes one-time codes.
type OTPService struct {
	repo     repository.OTPRepository
	mailer   Mailer
	cooldown Cooldown
	cfg      OTPConfig
	logger   zerolog.Logger
	now      func() time.Time
	generate func() (string, error)
}

// NewOTPService builds the service. cooldown may be nil.
func NewOTPService(repo repository.OTPRepository, mailer Mailer, cooldown Cooldown, cfg OTPConfig, logger zerolog.Logger) *OTPService {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultOTPTTL
	}
	return &OTPService{
		repo:     repo,
		mailer:   mailer,
		cooldown: cooldown,
		cfg:      cfg,
		logger:   logger.With().Str("component", "otp").Logger(),
		now:      time.Now,
		generate: auth.GenerateOTP,
	}
}

func (s *OTPService) TTL() time.Duration {
	return s.cfg.TTL
}

// Issue makes a new code the only active one for email and mails it.
// The code is persisted before delivery, so a mail failure leaves a valid
// code behind that the caller never saw. Any failure after the cooldown
// window is claimed gives the window back.
func (s *OTPService) Issue(ctx context.Context, email string) (*model.OTPCode, error) {
	claimed, err := s.claim(ctx, email)
	if err != nil {
		return nil, err
	}

	otp, err := s.issue(ctx, email)
	if err != nil {
		if claimed {
			s.release(ctx, email)
		}
		return nil, err
	}
	s.logger.Info().Str("otp_id", otp.ID).Msg("otp issued")
	return otp, nil
}

func (s *OTPService) issue(ctx context.Context, email string) (*model.OTPCode, error) {
	code, err := s.generate()
	if err != nil {
		return nil, fmt.Errorf("service/otp: %w", err)
	}

	now := s.now()
	otp := &model.OTPCode{
		Email:     email,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.repo.ReplaceActiveOTP(ctx, otp); err != nil {
		return nil, fmt.Errorf("service/otp: storing code: %w", err)
	}

	if err := s.mailer.SendOTP(ctx, email, code, s.cfg.TTL); err != nil {
		return nil, apperror.Unavailable("Error sending OTP code to email", err)
	}
	return otp, nil
}

// claim takes the cooldown window for email. It reports false when no
// window was taken: the limiter is off or unreachable.
func (s *OTPService) claim(ctx context.Context, email string) (bool, error) {
	if s.cooldown == nil || s.cfg.Cooldown <= 0 {
		return false, nil
	}
	ok, err := s.cooldown.Allow(ctx, email, s.cfg.Cooldown)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cooldown check failed, issuing anyway")
		return false, nil
	}
	if ok {
		return true, nil
	}

	refusal := apperror.ValidationFailed("email", "Please wait before requesting another code")
	wait, err := s.cooldown.Remaining(ctx, email)
	if err != nil {
		s.logger.Debug().Err(err).Msg("reading cooldown remaining")
		wait = s.cfg.Cooldown
	}
	refusal.RetryAfter = wait
	return false, refusal
}

func (s *OTPService) release(ctx context.Context, email string) {
	if err := s.cooldown.Release(context.WithoutCancel(ctx), email); err != nil {
		s.logger.Warn().Err(err).Msg("releasing otp cooldown")
	}
}

// Consume marks the matching active code used. Wrong, expired and used
// codes all produce the same validation error.
func (s *OTPService) Consume(ctx context.Context, email, code string) error {
	err := s.repo.ConsumeOTP(ctx, email, code, s.now())
	if errors.Is(err, repository.ErrOTPInvalid) {
		return errOTPInvalid
	}
	if err != nil {
		return fmt.Errorf("service/otp: consuming code: %w", err)
	}
	return nil
}

// Purge deletes codes that have been spent or expired for longer than retention.
func (s *OTPService) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.PurgeSpentOTPs(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("service/otp: purging: %w", err)
	}
	return n, nil
}
