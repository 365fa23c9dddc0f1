package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"pollchat/internal/domain"
	"pollchat/internal/security"
)

type contextKey string

const userContextKey contextKey = "currentUser"

// WithUser returns a new context carrying the current user.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// CurrentUser extracts the current user from context, if any.
func CurrentUser(r *http.Request) *domain.User {
	if v := r.Context().Value(userContextKey); v != nil {
		if u, ok := v.(*domain.User); ok {
			return u
		}
	}
	return nil
}

// AuthMiddleware validates the Bearer token and attaches the user named by
// its subject to the context.
func AuthMiddleware(tokens *security.TokenService, users domain.UserRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid Authorization header"})
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			userID, err := tokens.UserID(tokenStr)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
				return
			}

			user, err := users.GetByID(r.Context(), userID)
			if err != nil {
				hlog.FromRequest(r).Error().Err(err).Int64("user_id", userID).Msg("auth: user lookup failed")
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not found"})
				return
			}
			if user == nil {
				hlog.FromRequest(r).Debug().Int64("user_id", userID).Msg("auth: unknown user")
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "user not found"})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
