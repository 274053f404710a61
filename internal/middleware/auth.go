package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxAccountIDKey contextKey = "account_id"
	ctxRoleKey      contextKey = "role"
)

// TokenValidator checks a bearer token and returns the subject and role.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

// BearerAuth authenticates requests with a JWT bearer token. On success it
// sets the account id and role into request context.
func BearerAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}

			accountID, role, err := validator.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := WithAccount(r.Context(), accountID, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccountIDFromCtx returns the authenticated account id, or uuid.Nil.
func AccountIDFromCtx(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxAccountIDKey).(uuid.UUID)
	return id
}

// RoleFromCtx returns the authenticated role, or "".
func RoleFromCtx(ctx context.Context) string {
	role, _ := ctx.Value(ctxRoleKey).(string)
	return role
}

// WithAccount returns a context carrying the given account id and role.
func WithAccount(ctx context.Context, accountID uuid.UUID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxAccountIDKey, accountID)
	return context.WithValue(ctx, ctxRoleKey, role)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
