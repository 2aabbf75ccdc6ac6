package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"hrportal/internal/transport/http/api"
)

// RoleStore answers role checks against the current grants, not the roles
// captured in the token.
type RoleStore interface {
	HasAnyRole(ctx context.Context, userID string, roles ...string) (bool, error)
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUser(r.Context()); !ok {
			api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", GetRequestID(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireAnyRole(store RoleStore, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUser(r.Context())
			if !ok {
				api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", GetRequestID(r.Context()))
				return
			}

			allowed, err := store.HasAnyRole(r.Context(), user.UserID, roles...)
			if err != nil {
				zerolog.Ctx(r.Context()).Error().Err(err).Str("user_id", user.UserID).Msg("role lookup failed")
				api.Fail(w, http.StatusInternalServerError, "permission_error", "permission check failed", GetRequestID(r.Context()))
				return
			}
			if !allowed {
				api.Fail(w, http.StatusForbidden, "forbidden", "insufficient permissions", GetRequestID(r.Context()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
