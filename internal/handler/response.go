package handler

// Every response, success or failure, is a flat JSON object:
//
//	{"success": true,  "message": "Login successful", "token": "...", "token_type": "bearer"}
//	{"success": false, "message": "Password is required", "field": "password"}
//
// Data fields sit next to success and message rather than under a nested key.

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/naqwa/academy/internal/apperror"
)

const (
	maxBodyBytes = 1 << 20
	msgInternal  = "An internal error occurred"
)

// envelope is the data part of a response.
type envelope map[string]any

// writeJSON sends data with the given status. Headers must be set before
// WriteHeader; anything set afterwards is dropped.
func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.Error().Err(err).Msg("failed to encode JSON response")
		}
	}
}

func writeSuccess(w http.ResponseWriter, logger zerolog.Logger, message string, data envelope) {
	body := envelope{"success": true, "message": message}
	for k, v := range data {
		body[k] = v
	}
	writeJSON(w, logger, http.StatusOK, body)
}

// writeError maps a service error to a status code. Only an *AppError's
// Message reaches the client; anything else becomes a generic 500.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logger.Error().Err(err).Msg("unhandled error")
		writeJSON(w, logger, http.StatusInternalServerError, envelope{"success": false, "message": msgInternal})
		return
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		ev := logger.Error().Str("client_message", appErr.Message)
		if appErr.Cause != nil {
			ev = ev.AnErr("cause", appErr.Cause)
		}
		ev.Err(err).Msg("request failed")
	}

	if appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(appErr.RetryAfter))
	}

	body := envelope{"success": false, "message": appErr.Message}
	if appErr.Field != "" {
		body["field"] = appErr.Field
	}
	writeJSON(w, logger, status, body)
}

// retryAfterSeconds rounds d up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched
// so the service reports the missing fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperror.ValidationFailed("", "Invalid request body")
	}
	return nil
}

// HandleNotFound keeps unknown routes in the JSON envelope.
func HandleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, zerolog.Nop(), http.StatusNotFound, envelope{"success": false, "message": "Not found"})
}

func HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, zerolog.Nop(), http.StatusMethodNotAllowed, envelope{"success": false, "message": "Method not allowed"})
}
