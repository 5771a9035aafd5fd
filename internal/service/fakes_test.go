package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/naqwa/academy/internal/apperror"
	"github.com/naqwa/academy/internal/auth"
	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
)

// fakeStore is an in-memory repository.Store. Set the *Err fields to
// simulate database failures.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	admins   map[string]*model.Admin
	otps     []*model.OTPCode
	sessions []model.Session
	settings map[string]string
	nextID   int

	updatePasswordErr error
	createSessionErr  error
	getUserErr        error
}

var _ repository.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*model.User),
		admins:   make(map[string]*model.Admin),
		settings: make(map[string]string),
	}
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeStore) findUser(match func(*model.User) bool, key string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	for _, u := range f.users {
		if match(u) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", key)
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	return f.findUser(func(u *model.User) bool { return u.ID == id }, id)
}

func (f *fakeStore) GetUserByPhone(_ context.Context, phone string) (*model.User, error) {
	return f.findUser(func(u *model.User) bool { return u.PhoneNumber == phone }, phone)
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return f.findUser(func(u *model.User) bool { return u.Email != "" && u.Email == email }, email)
}

func (f *fakeStore) CreateUserWithSession(_ context.Context, user *model.User, mint repository.TokenMinter) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.PhoneNumber == user.PhoneNumber {
			return nil, apperror.AlreadyExists("phone_number", "phone_number already registered")
		}
		if user.Email != "" && u.Email == user.Email {
			return nil, apperror.AlreadyExists("email", "email already registered")
		}
	}
	user.ID = f.id("user")
	repository.PrepareUser(user)

	token, err := mint(user)
	if err != nil {
		return nil, err
	}
	copied := *user
	f.users[user.ID] = &copied
	s := model.Session{ID: f.id("session"), UserID: user.ID, Token: token, CreatedAt: user.CreatedAt, Active: true}
	f.sessions = append(f.sessions, s)
	return &s, nil
}

func (f *fakeStore) UpdatePassword(_ context.Context, userID string, cred model.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updatePasswordErr != nil {
		return f.updatePasswordErr
	}
	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	u.Password = cred
	return nil
}

func (f *fakeStore) ResetPasswordWithOTP(_ context.Context, userID, email, code string, cred model.Credential, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	if err := f.consumeLocked(email, code, now); err != nil {
		return err
	}
	u.Password = cred
	return nil
}

func (f *fakeStore) UpdateUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.users[user.ID]
	if !ok {
		return apperror.NotFound("user", user.ID)
	}
	for _, u := range f.users {
		if u.ID == user.ID {
			continue
		}
		if u.PhoneNumber == user.PhoneNumber {
			return apperror.AlreadyExists("phone_number", "phone_number already registered")
		}
		if user.Email != "" && u.Email == user.Email {
			return apperror.AlreadyExists("email", "email already registered")
		}
	}
	updated := *user
	updated.Password = cur.Password
	updated.CreatedAt = cur.CreatedAt
	f.users[user.ID] = &updated
	return nil
}

func (f *fakeStore) ListUsers(_ context.Context, opts repository.ListOptions) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.User{}
	for _, u := range f.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if opts.Offset >= len(out) {
		return []model.User{}, nil
	}
	out = out[opts.Offset:]
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeStore) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return apperror.NotFound("user", id)
	}
	delete(f.users, id)
	kept := f.sessions[:0]
	for _, s := range f.sessions {
		if s.UserID != id {
			kept = append(kept, s)
		}
	}
	f.sessions = kept
	return nil
}

func (f *fakeStore) GetAdminByPhone(_ context.Context, phone string) (*model.Admin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.admins[phone]
	if !ok {
		return nil, apperror.NotFound("admin", phone)
	}
	copied := *a
	return &copied, nil
}

func (f *fakeStore) CreateAdmin(_ context.Context, admin *model.Admin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.admins[admin.PhoneNumber]; ok {
		return apperror.AlreadyExists("phone_number", "phone_number already registered")
	}
	repository.PrepareAdmin(admin)
	copied := *admin
	f.admins[admin.PhoneNumber] = &copied
	return nil
}

func (f *fakeStore) UpdateAdminPassword(_ context.Context, phone string, cred model.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.admins[phone]
	if !ok {
		return apperror.NotFound("admin", phone)
	}
	a.Password = cred
	return nil
}

func (f *fakeStore) ReplaceActiveOTP(_ context.Context, otp *model.OTPCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.otps {
		if o.Email == otp.Email {
			o.Used = true
		}
	}
	otp.ID = f.id("otp")
	copied := *otp
	f.otps = append(f.otps, &copied)
	return nil
}

func (f *fakeStore) ConsumeOTP(_ context.Context, email, code string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumeLocked(email, code, now)
}

func (f *fakeStore) consumeLocked(email, code string, now time.Time) error {
	for _, o := range f.otps {
		if o.Email == email && o.Code == code && !o.Used && o.ExpiresAt.After(now) {
			o.Used = true
			return nil
		}
	}
	return repository.ErrOTPInvalid
}

func (f *fakeStore) PurgeSpentOTPs(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []*model.OTPCode
	var n int64
	for _, o := range f.otps {
		if (o.Used && o.CreatedAt.Before(before)) || o.ExpiresAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, o)
	}
	f.otps = kept
	return n, nil
}

func (f *fakeStore) activeOTPs(email string) []*model.OTPCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.OTPCode
	for _, o := range f.otps {
		if o.Email == email && !o.Used {
			out = append(out, o)
		}
	}
	return out
}

func (f *fakeStore) CreateSession(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createSessionErr != nil {
		return f.createSessionErr
	}
	s.ID = f.id("session")
	f.sessions = append(f.sessions, *s)
	return nil
}

func (f *fakeStore) ListSessions(_ context.Context, userID string, opts repository.ListOptions) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Session{}
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Offset >= len(out) {
		return []model.Session{}, nil
	}
	out = out[opts.Offset:]
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeStore) sessionCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

func (f *fakeStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.settings[key]
	return v, ok, nil
}

func (f *fakeStore) PutSetting(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[key] = value
	return nil
}

// fakeMailer records the last code per address.
type fakeMailer struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{codes: make(map[string]string)}
}

func (m *fakeMailer) SendOTP(_ context.Context, to, code string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.codes[to] = code
	return nil
}

func (m *fakeMailer) last(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[to]
}

type fakeCooldown struct {
	allow     bool
	err       error
	remaining time.Duration
	keys      []string
	released  []string
}

func (c *fakeCooldown) Allow(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.keys = append(c.keys, key)
	return c.allow, c.err
}

func (c *fakeCooldown) Remaining(context.Context, string) (time.Duration, error) {
	return c.remaining, nil
}

func (c *fakeCooldown) Release(_ context.Context, key string) error {
	c.released = append(c.released, key)
	return nil
}

// clock is a settable time source shared by the services under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	store     *fakeStore
	mailer    *fakeMailer
	clock     *clock
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	otps      *OTPService
	sessions  *SessionRegistry
	auth      *AuthService
	account   *AccountService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: "service-test-secret-0123456789", TTL: time.Hour})
	require.NoError(t, err)

	logger := zerolog.Nop()
	env := &testEnv{
		store:     newFakeStore(),
		mailer:    newFakeMailer(),
		clock:     &clock{t: time.Now()},
		tokens:    tokens,
		passwords: auth.NewPasswordService(4),
	}
	env.otps = NewOTPService(env.store, env.mailer, nil, OTPConfig{}, logger)
	env.otps.now = env.clock.Now
	env.sessions = NewSessionRegistry(env.store, logger)
	env.auth = NewAuthService(AuthDeps{
		Users:     env.store,
		Admins:    env.store,
		OTPs:      env.otps,
		Sessions:  env.sessions,
		Tokens:    tokens,
		Passwords: env.passwords,
		Logger:    logger,
	})
	env.auth.now = env.clock.Now
	env.account = NewAccountService(env.store, env.store, env.sessions, logger)
	return env
}

func validRegistration() RegisterInput {
	return RegisterInput{
		Name:         "Mona Adel",
		PhoneNumber:  "010 1234 5678",
		ParentNumber: "01198765432",
		Password:     "s3cret-pass",
		BirthDate:    "2008-05-17",
		Governorate:  "cairo",
		Grade:        "S3",
		Section:      "علمي رياضه",
		LangType:     "عربي",
	}
}

func registerUser(t *testing.T, env *testEnv, in RegisterInput) *AuthResult {
	t.Helper()
	res, err := env.auth.Register(context.Background(), in)
	require.NoError(t, err)
	return res
}

func errField(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
