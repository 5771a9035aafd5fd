package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/naqwa/academy/internal/apperror"
	"github.com/naqwa/academy/internal/auth"
	"github.com/naqwa/academy/internal/repository"
	"github.com/naqwa/academy/internal/service"
)

type AccountHandler struct {
	accounts *service.AccountService
	logger   zerolog.Logger
}

func NewAccountHandler(svc *service.AccountService, logger zerolog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: svc,
		logger:   logger.With().Str("component", "handler.account").Logger(),
	}
}

// HandleProfile handles GET /student/profile.
func (h *AccountHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("User not found"))
		return
	}

	profile, err := h.accounts.Profile(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, h.logger, "Profile retrieved", envelope{"profile": profile})
}

type profileUpdateRequest struct {
	Name         *string `json:"name"`
	PhoneNumber  *string `json:"phone_number"`
	ParentNumber *string `json:"parent_number"`
	BirthDate    *string `json:"birth_date"`
	Governorate  *string `json:"governorate"`
	Grade        *string `json:"grade"`
	Section      *string `json:"section"`
	LangType     *string `json:"lang_type"`
}

type userUpdateRequest struct {
	profileUpdateRequest
	AccountStatus *string `json:"account_status"`
	Points        *int    `json:"points"`
}

// HandleUpdateProfile handles PATCH /student/profile. Absent fields are kept.
func (h *AccountHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("User not found"))
		return
	}

	var req profileUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	profile, err := h.accounts.UpdateProfile(r.Context(), claims.UserID, service.ProfileUpdate(req))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, h.logger, "Profile updated successfully", envelope{"profile": profile})
}

// HandleSiteStatus handles the public GET /site-status.
func (h *AccountHandler) HandleSiteStatus(w http.ResponseWriter, r *http.Request) {
	on, err := h.accounts.UnderConstruction(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, h.logger, "OK", envelope{"under_construction": on})
}

// HandleAdminSiteStatus handles GET /admin/site-status.
func (h *AccountHandler) HandleAdminSiteStatus(w http.ResponseWriter, r *http.Request) {
	on, err := h.accounts.UnderConstruction(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, h.logger, "OK", envelope{"data": envelope{"under_construction": on}})
}

type siteStatusRequest struct {
	UnderConstruction *bool `json:"under_construction"`
}

// HandleSetSiteStatus handles PUT /admin/site-status.
func (h *AccountHandler) HandleSetSiteStatus(w http.ResponseWriter, r *http.Request) {
	var req siteStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.UnderConstruction == nil {
		writeError(w, h.logger, apperror.ValidationFailed("under_construction", "under_construction is required"))
		return
	}

	if err := h.accounts.SetUnderConstruction(r.Context(), *req.UnderConstruction); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, h.logger, "Site status updated", envelope{"data": envelope{"under_construction": *req.UnderConstruction}})
}

// HandleUserSessions handles GET /admin/users/{id}/sessions?limit=&offset=.
func (h *AccountHandler) HandleUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	opts, err := listOptions(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	sessions, err := h.accounts.UserSessions(r.Context(), userID, opts)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, h.logger, "OK", envelope{"sessions": sessions})
}

// HandleListUsers handles GET /admin/users?limit=&offset=.
func (h *AccountHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	users, err := h.accounts.ListUsers(r.Context(), opts)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, h.logger, "OK", envelope{"data": users})
}

// HandleGetUser handles GET /admin/users/{id}.
func (h *AccountHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, h.logger, "OK", envelope{"data": user})
}

// HandleUpdateUser handles PUT /admin/users/{id}.
func (h *AccountHandler) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req userUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.accounts.UpdateUser(r.Context(), chi.URLParam(r, "id"), service.UserUpdate{
		ProfileUpdate: service.ProfileUpdate(req.profileUpdateRequest),
		AccountStatus: req.AccountStatus,
		Points:        req.Points,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, h.logger, "User updated", envelope{"data": user})
}

// HandleDeleteUser handles DELETE /admin/users/{id}.
func (h *AccountHandler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, h.logger, "User deleted", nil)
}

func listOptions(r *http.Request) (repository.ListOptions, error) {
	var opts repository.ListOptions
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, apperror.ValidationFailed("limit", "limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, apperror.ValidationFailed("offset", "offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	return opts, nil
}
