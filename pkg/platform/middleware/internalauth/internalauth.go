// Package internalauth guards service-to-service routes with a shared token.
package internalauth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"partnerhub/pkg/requestcontext"
)

// Header carries the shared token.
const Header = "X-Internal-Token"

// RequireInternalToken rejects requests whose token does not match expected.
// An empty expected token rejects everything.
func RequireInternalToken(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(Header)
			// Constant-time comparison
			if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "internal token mismatch",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"internal token required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
