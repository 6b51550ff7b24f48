// Package middleware provides session authentication for the HTTP API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nekochat/server/identity"
)

// Verifier resolves a bearer token to its owning user.
type Verifier interface {
	Verify(token string) (*identity.User, error)
}

type contextKey int

const (
	userKey contextKey = iota
	tokenKey
)

// UserFrom returns the authenticated user injected by Session.
func UserFrom(ctx context.Context) (*identity.User, bool) {
	user, ok := ctx.Value(userKey).(*identity.User)
	return user, ok
}

// TokenFrom returns the session token injected by Session.
func TokenFrom(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey).(string)
	return token, ok
}

// BearerToken extracts the token from an Authorization header. Empty string
// when absent or malformed.
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// Session wraps a handler, requiring a valid session token. The response
// body is identical for a missing, malformed, revoked or expired token.
func Session(sessions Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}

			user, err := sessions.Verify(token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}
