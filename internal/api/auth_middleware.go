package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/nexbank/auth-service/internal/auth"
)

type contextKey string

const accountIDContextKey contextKey = "accountID"

// RequireAuth validates the session on incoming requests. It accepts a
// Bearer token in the Authorization header or, failing that, the access
// cookie set at login, so both API clients and the browser frontend work.
func RequireAuth(tokens *auth.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				if cookie, err := r.Cookie(AccessCookieName); err == nil {
					raw = cookie.Value
				}
			}
			if raw == "" {
				respondJSON(w, http.StatusUnauthorized, detail("Authentication required."))
				return
			}

			accountID, err := tokens.VerifyAccess(raw)
			if err != nil {
				respondJSON(w, http.StatusUnauthorized, detail("Invalid or expired token."))
				return
			}

			ctx := context.WithValue(r.Context(), accountIDContextKey, accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccountIDFromContext returns the authenticated account id set by RequireAuth.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDContextKey).(string)
	return id, ok
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
