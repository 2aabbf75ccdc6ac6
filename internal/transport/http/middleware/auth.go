package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"hrportal/internal/domain/auth"
)

// SessionChecker confirms a token's session is still live.
type SessionChecker interface {
	CheckSession(ctx context.Context, userID, sessionID string) error
}

// Auth attaches the caller to the context when the request carries a valid
// bearer token. Requests without one continue anonymously; RequireAuth and
// RequireAnyRole decide what anonymous callers may reach.
func Auth(secret string, sessions SessionChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := auth.ParseToken(secret, token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if sessions != nil {
				if err := sessions.CheckSession(r.Context(), claims.UserID, claims.SessionID); err != nil {
					zerolog.Ctx(r.Context()).Debug().Err(err).Str("user_id", claims.UserID).Msg("session rejected")
					next.ServeHTTP(w, r)
					return
				}
			}

			ctx := WithUser(r.Context(), auth.UserContext{
				UserID:    claims.UserID,
				SessionID: claims.SessionID,
				Roles:     claims.Roles,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
