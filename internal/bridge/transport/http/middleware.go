package http

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/nightline/iphone-bridge/internal/bridge/adapters/webhook"
)

// RequireSecret rejects requests whose X-Bridge-Secret header does not
// match the configured shared secret. Comparison is constant-time.
func RequireSecret(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(webhook.SecretHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				logger.WarnContext(r.Context(), "Rejected request with invalid bridge secret",
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
				)
				http.Error(w, "Invalid or missing "+webhook.SecretHeader+" header", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
