package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pigeon-im/pigeon/internal/auth"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// Auth validates the bearer token and stashes the authenticated user id in
// the request context.
func Auth(jwtMgr *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verifyRequest(jwtMgr, r)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verifyRequest(jwtMgr *auth.JWTManager, r *http.Request) (*auth.Claims, error) {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	return jwtMgr.VerifyToken(token)
}

// UserID extracts the authenticated user id placed by Auth. Empty string when
// the request did not pass through the middleware.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}
