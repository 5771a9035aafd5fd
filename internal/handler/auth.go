package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/naqwa/academy/internal/apperror"
	"github.com/naqwa/academy/internal/auth"
	"github.com/naqwa/academy/internal/service"
)

const tokenType = "bearer"

// AuthHandler serves the credential endpoints: login, registration, OTP
// issue and check, password reset, admin login and token verification.
type AuthHandler struct {
	auth   *service.AuthService
	logger zerolog.Logger
}

func NewAuthHandler(svc *service.AuthService, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   svc,
		logger: logger.With().Str("component", "handler.auth").Logger(),
	}
}

type loginRequest struct {
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type registerRequest struct {
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number"`
	Email        string `json:"email"`
	ParentNumber string `json:"parent_number"`
	Password     string `json:"password"`
	BirthDate    string `json:"birth_date"`
	Governorate  string `json:"governorate"`
	Grade        string `json:"grade"`
	Section      string `json:"section"`
	LangType     string `json:"lang_type"`
}

type otpRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type forgotPasswordRequest struct {
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

type adminLoginRequest struct {
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

func (h *AuthHandler) writeToken(w http.ResponseWriter, message string, res *service.AuthResult) {
	writeSuccess(w, h.logger, message, envelope{
		"token":      res.Token,
		"token_type": tokenType,
		"expires_in": int64(res.ExpiresIn / time.Second),
	})
}

// HandleLogin handles POST /login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.Login(r.Context(), service.LoginInput{
		PhoneNumber: req.PhoneNumber,
		Email:       req.Email,
		Password:    req.Password,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.writeToken(w, "Login successful", res)
}

// HandleRegister handles POST /register.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.Register(r.Context(), service.RegisterInput(req))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.writeToken(w, "User registered successfully", res)
}

// HandleSendOTP handles POST /send-otp. The address may come in the body or
// in the email query parameter; the body wins.
func (h *AuthHandler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	email := req.Email
	if strings.TrimSpace(email) == "" {
		email = r.URL.Query().Get("email")
	}

	if err := h.auth.SendOTP(r.Context(), email); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, h.logger, "OTP code sent to email", envelope{"expires_in": int64(h.auth.OTPTTL() / time.Second)})
}

// HandleVerifyOTP handles POST /verify-otp. A successful check spends the code.
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.auth.VerifyOTP(r.Context(), req.Email, req.OTP); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, h.logger, "OTP verified", nil)
}

// HandleForgotPassword handles POST /forgot-password.
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	err := h.auth.ForgotPassword(r.Context(), service.ForgotPasswordInput(req))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, h.logger, "Password updated successfully", nil)
}

// HandleAdminLogin handles POST /admin/login.
func (h *AuthHandler) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.AdminLogin(r.Context(), req.PhoneNumber, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.writeToken(w, "Login successful", res)
}

// HandleVerify handles GET /verify behind RequireAuth.
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("Authorization header missing or invalid"))
		return
	}

	id, err := h.auth.Identify(r.Context(), claims)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var name any
	if id.Name != "" {
		name = id.Name
	}
	writeSuccess(w, h.logger, "Token is valid", envelope{
		"user_id":    id.UserID,
		"role":       id.Role,
		"created_at": id.CreatedAt,
		"name":       name,
	})
}
