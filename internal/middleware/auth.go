package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"docent/internal/auth"
	"docent/internal/httputil"
)

type contextKey string

// ClaimsKey is the request-context key holding the verified token claims.
const ClaimsKey contextKey = "claims"

// RequireAuth protects a handler with bearer-token verification. A nil
// verifier disables the check entirely; main only allows that outside prod.
func RequireAuth(verifier auth.TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				httputil.RespondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := verifier.VerifyToken(token)
			if err != nil {
				logger.Debug("token rejected", "path", r.URL.Path, "error", err)
				httputil.RespondError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
