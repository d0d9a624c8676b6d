package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/moodbridge/backend/internal/service/auth"
	"github.com/moodbridge/backend/pkg/utils"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Auth validates the session token and stores the user id in the
// request context. Tokens arrive as a Bearer header, or as a "token"
// query parameter for EventSource and websocket clients that cannot
// set headers.
func Auth(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractToken(r)
			if tokenString == "" {
				utils.RespondError(w, http.StatusUnauthorized, "authorization required")
				return
			}

			claims, err := svc.ParseSessionToken(tokenString)
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, "invalid session token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// WithUserID returns a context carrying the user id, as Auth would set
// it.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user id set by Auth.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
