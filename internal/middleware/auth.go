// Package middleware holds HTTP middleware shared across feature routers.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/chatgame/service-auth/internal/user/entity"
)

// SessionCookie is the name of the session token cookie.
const SessionCookie = "token"

type ctxKey int

const userKey ctxKey = 0

// TokenVerifier checks a session token and returns the encoded user ID.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// UserResolver loads the public projection of a user by ID.
type UserResolver interface {
	GetPublic(ctx context.Context, id string) (*entity.PublicUser, error)
}

// ContextWithUser attaches an authenticated user to the context the same
// way Auth does.
func ContextWithUser(ctx context.Context, u *entity.PublicUser) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext returns the authenticated user attached by Auth.
func UserFromContext(ctx context.Context) (*entity.PublicUser, bool) {
	u, ok := ctx.Value(userKey).(*entity.PublicUser)
	return u, ok
}

// Auth gates protected routes. The token is taken from the session cookie
// first, then from the Authorization bearer header. Any failure (missing,
// invalid or expired token, vanished user) yields 401.
func Auth(verifier TokenVerifier, users UserResolver, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := extractToken(r)
			if tok == "" {
				unauthorized(w, "not authorized, no token")
				return
			}

			uid, err := verifier.Verify(tok)
			if err != nil {
				logger.Debugw("token rejected", "err", err)
				unauthorized(w, "not authorized, invalid token")
				return
			}

			u, err := users.GetPublic(r.Context(), uid)
			if err != nil {
				// covers accounts deleted after token issuance
				logger.Debugw("token user lookup failed", "user_id", uid, "err", err)
				unauthorized(w, "user not found")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), u)))
		})
	}
}

func extractToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
