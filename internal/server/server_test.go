package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naqwa/academy/internal/auth"
	"github.com/naqwa/academy/internal/config"
	"github.com/naqwa/academy/internal/limiter"
	"github.com/naqwa/academy/internal/model"
	"github.com/naqwa/academy/internal/repository"
	sqliteRepo "github.com/naqwa/academy/internal/repository/sqlite"
	"github.com/naqwa/academy/internal/service"
)

type captureMailer struct {
	mu       sync.Mutex
	codes    map[string]string
	failNext error
}

func (m *captureMailer) SendOTP(_ context.Context, to, code string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	if m.codes == nil {
		m.codes = map[string]string{}
	}
	m.codes[to] = code
	return nil
}

func (m *captureMailer) failOnce(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *captureMailer) code(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[to]
}

type testServer struct {
	srv    *Server
	store  repository.Store
	mailer *captureMailer
	cfg    *config.AppConfig
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Environment: "test",
		HTTP:        config.HTTPConfig{RequestTimeout: 5 * time.Second},
		Database:    config.DatabaseConfig{Driver: config.DriverSQLite, DSN: ":memory:", Timeout: 5 * time.Second},
		Security: config.SecurityConfig{
			JWTSecret:  "server-test-secret-0123456789",
			JWTIssuer:  "academy-test",
			TokenTTL:   time.Hour,
			OTPTTL:     5 * time.Minute,
			BcryptCost: 4,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.AppConfig, cooldown service.Cooldown) *testServer {
	t.Helper()

	store, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)

	mailer := &captureMailer{}
	srv, err := NewWithDeps(cfg, Deps{Store: store, Mailer: mailer, Cooldown: cooldown}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	return &testServer{srv: srv, store: store, mailer: mailer, cfg: cfg}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	rec := ts.serve(t, method, path, token, body)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return rec.Code, out
}

func (ts *testServer) serve(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func registration(phone, email string) map[string]any {
	return map[string]any{
		"name":          "Mona Adel",
		"phone_number":  phone,
		"email":         email,
		"parent_number": "01198765432",
		"password":      "first-pass",
		"birth_date":    "2008-05-17",
		"governorate":   "cairo",
		"grade":         "S3",
		"section":       "علمي رياضه",
		"lang_type":     "عربي",
	}
}

func (ts *testServer) decode(t *testing.T, token string) *auth.Claims {
	t.Helper()
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: ts.cfg.Security.JWTSecret,
		TTL:    ts.cfg.Security.TokenTTL,
		Issuer: ts.cfg.Security.JWTIssuer,
	})
	require.NoError(t, err)
	claims, err := tokens.Decode(token)
	require.NoError(t, err)
	return claims
}

func TestEndToEnd_RegisterLoginReset(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	status, body := ts.do(t, http.MethodPost, "/api/v1/register", "", registration("01012345678", "Mona@Example.com"))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "bearer", body["token_type"])
	assert.Equal(t, float64(3600), body["expires_in"])
	regToken := body["token"].(string)
	assert.Equal(t, model.RoleUser, ts.decode(t, regToken).Role)

	status, body = ts.do(t, http.MethodPost, "/api/v1/register", "", registration("01012345678", "other@example.com"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "phone_number", body["field"])

	status, body = ts.do(t, http.MethodPost, "/api/v1/login", "", map[string]any{
		"phone_number": "01012345678", "password": "first-pass",
	})
	require.Equal(t, http.StatusOK, status, body)

	status, body = ts.do(t, http.MethodPost, "/api/v1/send-otp", "", map[string]any{"email": "mona@example.com"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(300), body["expires_in"])
	code := ts.mailer.code("mona@example.com")
	require.Len(t, code, 6)

	status, body = ts.do(t, http.MethodPost, "/api/v1/forgot-password", "", map[string]any{
		"email": "mona@example.com", "otp": code, "new_password": "second-pass",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Password updated successfully", body["message"])

	// The code is spent.
	status, _ = ts.do(t, http.MethodPost, "/api/v1/forgot-password", "", map[string]any{
		"email": "mona@example.com", "otp": code, "new_password": "third-pass",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = ts.do(t, http.MethodPost, "/api/v1/login", "", map[string]any{
		"email": "mona@example.com", "password": "first-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid credentials", body["message"])

	status, body = ts.do(t, http.MethodPost, "/api/v1/login", "", map[string]any{
		"email": "mona@example.com", "password": "second-pass",
	})
	require.Equal(t, http.StatusOK, status, body)
	token := body["token"].(string)

	status, body = ts.do(t, http.MethodGet, "/api/v1/verify", token, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Mona Adel", body["name"])
	assert.Equal(t, "user", body["role"])

	status, body = ts.do(t, http.MethodGet, "/api/v1/student/profile", token, nil)
	require.Equal(t, http.StatusOK, status, body)
	profile := body["profile"].(map[string]any)
	assert.Equal(t, "01012345678", profile["phone_number"])
	assert.Equal(t, "2008-05-17", profile["birth_date"])
}

func TestLogin_UnknownUserMatchesWrongPassword(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	status, _ := ts.do(t, http.MethodPost, "/api/v1/register", "", registration("01012345678", ""))
	require.Equal(t, http.StatusOK, status)

	wrongStatus, wrong := ts.do(t, http.MethodPost, "/api/v1/login", "", map[string]any{
		"phone_number": "01012345678", "password": "nope",
	})
	unknownStatus, unknown := ts.do(t, http.MethodPost, "/api/v1/login", "", map[string]any{
		"phone_number": "01099999999", "password": "nope",
	})

	assert.Equal(t, http.StatusUnauthorized, wrongStatus)
	assert.Equal(t, wrongStatus, unknownStatus)
	assert.Equal(t, wrong, unknown)
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	ctx := context.Background()

	passwords := auth.NewPasswordService(4)
	digest, err := passwords.Hash("admin-pass")
	require.NoError(t, err)
	require.NoError(t, ts.store.CreateAdmin(ctx, &model.Admin{
		Name:        "Root",
		PhoneNumber: "01000000000",
		Password:    model.HashedCredential(digest),
	}))

	status, body := ts.do(t, http.MethodPost, "/api/v1/admin/login", "", map[string]any{
		"phone_number": "01000000000", "password": "admin-pass",
	})
	require.Equal(t, http.StatusOK, status, body)
	adminToken := body["token"].(string)
	assert.Equal(t, model.RoleAdmin, ts.decode(t, adminToken).Role)

	status, body = ts.do(t, http.MethodPost, "/api/v1/register", "", registration("01012345678", ""))
	require.Equal(t, http.StatusOK, status)
	studentToken := body["token"].(string)
	studentID := ts.decode(t, studentToken).UserID

	// Site status defaults to under construction.
	status, body = ts.do(t, http.MethodGet, "/api/v1/site-status", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["under_construction"])

	status, _ = ts.do(t, http.MethodPut, "/api/v1/admin/site-status", studentToken, map[string]any{"under_construction": false})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = ts.do(t, http.MethodPut, "/api/v1/admin/site-status", "", map[string]any{"under_construction": false})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = ts.do(t, http.MethodPut, "/api/v1/admin/site-status", adminToken, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "under_construction", body["field"])

	status, _ = ts.do(t, http.MethodPut, "/api/v1/admin/site-status", adminToken, map[string]any{"under_construction": false})
	require.Equal(t, http.StatusOK, status)

	status, body = ts.do(t, http.MethodGet, "/api/v1/admin/site-status", adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["data"].(map[string]any)["under_construction"])

	status, _ = ts.do(t, http.MethodGet, "/api/v1/student/profile", adminToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = ts.do(t, http.MethodGet, "/api/v1/admin/users/"+studentID+"/sessions", adminToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, studentID, sessions[0].(map[string]any)["user_id"])
	assert.NotContains(t, sessions[0].(map[string]any), "token")

	status, _ = ts.do(t, http.MethodGet, "/api/v1/admin/users/"+studentID+"/sessions?limit=x", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, http.MethodGet, "/api/v1/admin/users/nobody/sessions", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func adminToken(t *testing.T, ts *testServer) string {
	t.Helper()
	digest, err := auth.NewPasswordService(4).Hash("admin-pass")
	require.NoError(t, err)
	require.NoError(t, ts.store.CreateAdmin(context.Background(), &model.Admin{
		Name:        "Root",
		PhoneNumber: "01000000000",
		Password:    model.HashedCredential(digest),
	}))
	status, body := ts.do(t, http.MethodPost, "/api/v1/admin/login", "", map[string]any{
		"phone_number": "01000000000", "password": "admin-pass",
	})
	require.Equal(t, http.StatusOK, status, body)
	return body["token"].(string)
}

func TestStudentProfile_Update(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	status, body := ts.do(t, http.MethodPost, "/api/v1/register", "", registration("01012345678", ""))
	require.Equal(t, http.StatusOK, status, body)
	token := body["token"].(string)
	status, _ = ts.do(t, http.MethodPost, "/api/v1/register", "", registration("01111111111", ""))
	require.Equal(t, http.StatusOK, status)

	status, body = ts.do(t, http.MethodPatch, "/api/v1/student/profile", token, map[string]any{
		"name": "Mona A.", "grade": "S1",
	})
	require.Equal(t, http.StatusOK, status, body)
	profile := body["profile"].(map[string]any)
	assert.Equal(t, "Mona A.", profile["name"])
	assert.Equal(t, "S1", profile["grade"])
	assert.Equal(t, "01012345678", profile["phone_number"])

	status, body = ts.do(t, http.MethodGet, "/api/v1/student/profile", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Mona A.", body["profile"].(map[string]any)["name"])

	status, body = ts.do(t, http.MethodPatch, "/api/v1/student/profile", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No fields to update", body["message"])

	status, _ = ts.do(t, http.MethodPatch, "/api/v1/student/profile", token, map[string]any{"phone_number": "01111111111"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = ts.do(t, http.MethodPatch, "/api/v1/student/profile", "", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdminUsers_CRUD(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)
	admin := adminToken(t, ts)

	status, body := ts.do(t, http.MethodPost, "/api/v1/register", "", registration("01012345678", "m@example.com"))
	require.Equal(t, http.StatusOK, status, body)
	studentToken := body["token"].(string)
	studentID := ts.decode(t, studentToken).UserID

	status, _ = ts.do(t, http.MethodGet, "/api/v1/admin/users", studentToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = ts.do(t, http.MethodGet, "/api/v1/admin/users?limit=10", admin, nil)
	require.Equal(t, http.StatusOK, status, body)
	users := body["data"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, studentID, users[0].(map[string]any)["id"])
	assert.NotContains(t, users[0].(map[string]any), "password")

	status, body = ts.do(t, http.MethodPut, "/api/v1/admin/users/"+studentID, admin, map[string]any{
		"account_status": "inactive", "points": 25,
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "inactive", body["data"].(map[string]any)["account_status"])

	status, body = ts.do(t, http.MethodGet, "/api/v1/admin/users/"+studentID, admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(25), body["data"].(map[string]any)["points"])
	assert.Equal(t, "m@example.com", body["data"].(map[string]any)["email"])

	status, _ = ts.do(t, http.MethodPut, "/api/v1/admin/users/"+studentID, admin, map[string]any{"points": -5})
	assert.Equal(t, http.StatusBadRequest, status)

	// the password survives an admin edit
	status, _ = ts.do(t, http.MethodPost, "/api/v1/login", "", map[string]any{"phone_number": "01012345678", "password": "first-pass"})
	assert.Equal(t, http.StatusOK, status)

	status, _ = ts.do(t, http.MethodDelete, "/api/v1/admin/users/"+studentID, admin, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodGet, "/api/v1/admin/users/"+studentID, admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = ts.do(t, http.MethodDelete, "/api/v1/admin/users/"+studentID, admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSendOTP_QueryParameterAndCooldown(t *testing.T) {
	ts, mr := newCooldownServer(t, time.Minute)

	status, body := ts.do(t, http.MethodPost, "/api/v1/send-otp?email=q@example.com", "", nil)
	require.Equal(t, http.StatusOK, status, body)
	first := ts.mailer.code("q@example.com")
	require.NotEmpty(t, first)

	rec := ts.serve(t, http.MethodPost, "/api/v1/send-otp?email=q@example.com", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.True(t, mr.Exists(cooldownPrefix+"q@example.com"))

	mr.FastForward(time.Minute + time.Second)
	status, _ = ts.do(t, http.MethodPost, "/api/v1/send-otp", "", map[string]any{"email": "q@example.com"})
	assert.Equal(t, http.StatusOK, status)

	status, body = ts.do(t, http.MethodPost, "/api/v1/verify-otp", "", map[string]any{"email": "q@example.com", "otp": ts.mailer.code("q@example.com")})
	assert.Equal(t, http.StatusOK, status, body)
}

func newCooldownServer(t *testing.T, window time.Duration) (*testServer, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := testConfig()
	cfg.Security.OTPCooldown = window
	return newTestServer(t, cfg, limiter.NewCooldown(client, cooldownPrefix)), mr
}

func TestSendOTP_MailFailureDoesNotLockOut(t *testing.T) {
	ts, mr := newCooldownServer(t, time.Minute)
	ts.mailer.failOnce(errors.New("smtp: 421 service not available"))

	status, body := ts.do(t, http.MethodPost, "/api/v1/send-otp", "", map[string]any{"email": "r@example.com"})
	require.Equal(t, http.StatusInternalServerError, status, body)
	assert.False(t, mr.Exists(cooldownPrefix+"r@example.com"))

	status, body = ts.do(t, http.MethodPost, "/api/v1/send-otp", "", map[string]any{"email": "r@example.com"})
	require.Equal(t, http.StatusOK, status, body)
	assert.NotEmpty(t, ts.mailer.code("r@example.com"))
}

func TestRouting_JSONFallbacks(t *testing.T) {
	ts := newTestServer(t, testConfig(), nil)

	status, body := ts.do(t, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, body["success"])

	status, _ = ts.do(t, http.MethodGet, "/api/v1/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)

	status, body = ts.do(t, http.MethodGet, "/api/v1/verify", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Authorization header missing or invalid", body["message"])
}

func TestOpenStore(t *testing.T) {
	store, err := OpenStore(context.Background(), config.DatabaseConfig{
		Driver: config.DriverSQLite,
		DSN:    t.TempDir() + "/nested/academy.db",
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = OpenStore(context.Background(), config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}
