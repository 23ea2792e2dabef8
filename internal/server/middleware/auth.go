package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/textextract/textextract/internal/security"
	"github.com/textextract/textextract/internal/server/respond"
	userdomain "github.com/textextract/textextract/internal/user/domain"
)

// TokenValidator validates a bearer token and returns the subject user id.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// UserLoader loads a user by id. Missing users return (nil, nil).
type UserLoader interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// RequireAuth validates the Authorization bearer token, loads the user, and
// rejects disabled accounts. On success the user, user id, and raw token are
// attached to the request context. Token problems are 401; a valid token for
// an inactive account is 403. The specific validation failure is logged, not
// returned to the client.
func RequireAuth(tokens TokenValidator, users UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				respond.Error(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}
			userID, err := tokens.Validate(r.Context(), raw)
			if err != nil {
				slog.Debug("token rejected", "error", err, "path", r.URL.Path)
				respond.Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			user, err := users.GetByID(r.Context(), userID)
			if err != nil {
				slog.Error("loading session user", "error", err, "user_id", userID)
				respond.Error(w, http.StatusInternalServerError, "internal error")
				return
			}
			if user == nil {
				respond.Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if user.Status != userdomain.UserStatusActive {
				respond.Error(w, http.StatusForbidden, "account is inactive")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), user, raw)))
		})
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme comparison is case-insensitive; an empty token yields "".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

var _ TokenValidator = (*security.TokenService)(nil)
