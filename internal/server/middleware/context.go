// Package middleware provides the HTTP middleware chain for authenticated
// routes: bearer-token session validation, CSRF protection for mutating
// requests, and request logging.
package middleware

import (
	"context"

	userdomain "github.com/textextract/textextract/internal/user/domain"
)

type contextKey string

const (
	userKey   contextKey = "auth.user"
	userIDKey contextKey = "auth.user_id"
	tokenKey  contextKey = "auth.token"
)

// WithIdentity attaches the authenticated user and the raw bearer token to
// the context.
func WithIdentity(ctx context.Context, user *userdomain.User, token string) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	ctx = context.WithValue(ctx, userIDKey, user.ID)
	return context.WithValue(ctx, tokenKey, token)
}

// UserFromContext returns the authenticated user, or nil when the request
// did not pass through RequireAuth.
func UserFromContext(ctx context.Context) *userdomain.User {
	u, _ := ctx.Value(userKey).(*userdomain.User)
	return u
}

// UserIDFromContext returns the authenticated user id, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// TokenFromContext returns the raw bearer token for the request, or "".
// Logout uses it to revoke the exact token that authenticated the call.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}
