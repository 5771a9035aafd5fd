package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/naqwa/academy/internal/apperror"
	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
)

const settingUnderConstruction = "under_construction"

// Profile is the student-facing view of a user row.
type Profile struct {
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number"`
	ParentNumber string `json:"parent_number"`
	BirthDate    string `json:"birth_date"`
	Governorate  string `json:"governorate"`
	Grade        string `json:"grade"`
	Section      string `json:"section"`
	LangType     string `json:"lang_type"`
}

// AccountService owns student profiles and the admin user pages, plus the
// site status flag and the session audit trail.
type AccountService struct {
	users    repository.UserRepository
	settings repository.SettingsRepository
	sessions *SessionRegistry
	logger   zerolog.Logger
}

func NewAccountService(users repository.UserRepository, settings repository.SettingsRepository, sessions *SessionRegistry, logger zerolog.Logger) *AccountService {
	return &AccountService{
		users:    users,
		settings: settings,
		sessions: sessions,
		logger:   logger.With().Str("component", "account").Logger(),
	}
}

func (s *AccountService) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NotFoundMessage("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("service/account: loading profile %s: %w", userID, err)
	}
	return toProfile(user), nil
}

// UnderConstruction reports the site status flag. It is on until an admin
// first turns it off.
func (s *AccountService) UnderConstruction(ctx context.Context) (bool, error) {
	value, ok, err := s.settings.GetSetting(ctx, settingUnderConstruction)
	if err != nil {
		return false, fmt.Errorf("service/account: reading site status: %w", err)
	}
	if !ok {
		return true, nil
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (s *AccountService) SetUnderConstruction(ctx context.Context, on bool) error {
	if err := s.settings.PutSetting(ctx, settingUnderConstruction, strconv.FormatBool(on)); err != nil {
		return fmt.Errorf("service/account: writing site status: %w", err)
	}
	s.logger.Info().Bool("under_construction", on).Msg("site status changed")
	return nil
}

// UserSessions lists the recorded sessions of an existing student.
func (s *AccountService) UserSessions(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Session, error) {
	if _, err := s.loadUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.sessions.List(ctx, userID, opts)
}

// ProfileUpdate carries the fields a student may change. A nil field is left
// as stored; a blank name or governorate is ignored.
type ProfileUpdate struct {
	Name         *string
	PhoneNumber  *string
	ParentNumber *string
	BirthDate    *string
	Governorate  *string
	Grade        *string
	Section      *string
	LangType     *string
}

// apply validates the set fields and writes them into user. It reports
// whether anything was set.
func (u ProfileUpdate) apply(user *model.User) (bool, error) {
	changed := false
	if u.Name != nil && present(*u.Name) {
		user.Name = strings.TrimSpace(*u.Name)
		changed = true
	}
	if u.PhoneNumber != nil {
		phone, err := NormalizePhone(*u.PhoneNumber, "phone_number")
		if err != nil {
			return false, err
		}
		user.PhoneNumber = phone
		changed = true
	}
	if u.ParentNumber != nil {
		phone, err := NormalizePhone(*u.ParentNumber, "parent_number")
		if err != nil {
			return false, err
		}
		user.ParentNumber = phone
		changed = true
	}
	if u.BirthDate != nil {
		birth, err := parseBirthDate(*u.BirthDate)
		if err != nil {
			return false, err
		}
		user.BirthDate = birth
		changed = true
	}
	if u.Governorate != nil && present(*u.Governorate) {
		g, err := NormalizeGovernorate(*u.Governorate, "governorate")
		if err != nil {
			return false, err
		}
		user.Governorate = g
		changed = true
	}
	for _, f := range []struct {
		name    string
		value   *string
		allowed []string
		dst     *string
	}{
		{"grade", u.Grade, validGrades, &user.Grade},
		{"section", u.Section, validSections, &user.Section},
		{"lang_type", u.LangType, validLangTypes, &user.LangType},
	} {
		if f.value == nil {
			continue
		}
		if !oneOf(*f.value, f.allowed) {
			return false, apperror.ValidationFailed(f.name,
				fmt.Sprintf("%s must be one of %s", f.name, strings.Join(f.allowed, ", ")))
		}
		*f.dst = *f.value
		changed = true
	}
	return changed, nil
}

// UserUpdate is the admin edit of a student: the profile fields plus the
// account status and points balance.
type UserUpdate struct {
	ProfileUpdate
	AccountStatus *string
	Points        *int
}

func (u UserUpdate) apply(user *model.User) (bool, error) {
	changed, err := u.ProfileUpdate.apply(user)
	if err != nil {
		return false, err
	}
	if u.AccountStatus != nil {
		if !present(*u.AccountStatus) {
			return false, apperror.ValidationFailed("account_status", "account_status must not be empty")
		}
		user.AccountStatus = strings.TrimSpace(*u.AccountStatus)
		changed = true
	}
	if u.Points != nil {
		if *u.Points < 0 {
			return false, apperror.ValidationFailed("points", "points must not be negative")
		}
		user.Points = *u.Points
		changed = true
	}
	return changed, nil
}

var errNoFields = apperror.ValidationFailed("", "No fields to update")

// UpdateProfile applies a student's own edit and returns the new profile.
// Moving to a phone number held by another account is a conflict.
func (s *AccountService) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (*Profile, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	changed, err := in.apply(user)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errNoFields
	}
	if err := s.saveUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", userID).Msg("student profile updated")
	return toProfile(user), nil
}

// ListUsers returns one page of students, oldest first.
func (s *AccountService) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	users, err := s.users.ListUsers(ctx, clampList(opts))
	if err != nil {
		return nil, fmt.Errorf("service/account: listing users: %w", err)
	}
	return users, nil
}

func (s *AccountService) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.loadUser(ctx, id)
}

// UpdateUser applies an admin edit and returns the stored row.
func (s *AccountService) UpdateUser(ctx context.Context, id string, in UserUpdate) (*model.User, error) {
	user, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, err
	}
	changed, err := in.apply(user)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errNoFields
	}
	if err := s.saveUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", id).Msg("user updated by admin")
	return user, nil
}

// DeleteUser removes a student and the session trail recorded for them.
func (s *AccountService) DeleteUser(ctx context.Context, id string) error {
	err := s.users.DeleteUser(ctx, id)
	if errors.Is(err, apperror.ErrNotFound) {
		return apperror.NotFound("user", id)
	}
	if err != nil {
		return fmt.Errorf("service/account: deleting user %s: %w", id, err)
	}
	s.logger.Info().Str("user_id", id).Msg("user deleted")
	return nil
}

func (s *AccountService) loadUser(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("service/account: loading user %s: %w", id, err)
	}
	return user, nil
}

func (s *AccountService) saveUser(ctx context.Context, user *model.User) error {
	err := s.users.UpdateUser(ctx, user)
	if errors.Is(err, apperror.ErrConflict) || errors.Is(err, apperror.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("service/account: updating user %s: %w", user.ID, err)
	}
	return nil
}

func toProfile(user *model.User) *Profile {
	p := &Profile{
		Name:         user.Name,
		PhoneNumber:  user.PhoneNumber,
		ParentNumber: user.ParentNumber,
		Governorate:  user.Governorate,
		Grade:        user.Grade,
		Section:      user.Section,
		LangType:     user.LangType,
	}
	if !user.BirthDate.IsZero() {
		p.BirthDate = user.BirthDate.Format(birthDateLayout)
	}
	return p
}
