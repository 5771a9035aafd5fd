package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/naqwa/academy/internal/model"
)

type contextKey string

const claimsKey contextKey = "claims"

// RequireAuth rejects requests without a valid "Authorization: Bearer" token
// and stores the decoded claims in the request context.
//
// Every failure is the same 401 to the client; the log line says whether the
// token was missing, expired or malformed.
func RequireAuth(tokens *TokenService, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				logger.Debug().Str("path", r.URL.Path).Msg("auth: missing or non-bearer authorization header")
				writeAuthError(w, http.StatusUnauthorized, "Authorization header missing or invalid")
				return
			}

			claims, err := tokens.Decode(raw)
			if err != nil {
				reason := "malformed"
				if errors.Is(err, ErrTokenExpired) {
					reason = "expired"
				}
				logger.Info().Str("path", r.URL.Path).Str("reason", reason).Msg("auth: token rejected")
				writeAuthError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole lets the request through only if the claims placed by
// RequireAuth carry one of the allowed roles. It must run after RequireAuth.
func RequireRole(allowed ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "Authorization header missing or invalid")
				return
			}
			if !roleAllowed(claims.Role, allowed) {
				writeAuthError(w, http.StatusForbidden, forbiddenMessage(allowed))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func roleAllowed(role model.Role, allowed []model.Role) bool {
	for _, a := range allowed {
		if a == role {
			return true
		}
	}
	return false
}

func forbiddenMessage(allowed []model.Role) string {
	if len(allowed) != 1 {
		return "Insufficient role"
	}
	switch allowed[0] {
	case model.RoleAdmin:
		return "Admin only"
	case model.RoleUser:
		return "Students only"
	default:
		return "Insufficient role"
	}
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
	})
}
