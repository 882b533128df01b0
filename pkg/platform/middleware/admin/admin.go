package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"checkline/pkg/requestcontext"
)

// TokenHeader carries the shared secret for privileged service calls.
const TokenHeader = "X-Service-Token"

// RequireServiceToken rejects requests whose TokenHeader does not match
// expectedToken. An empty expectedToken rejects everything.
func RequireServiceToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(TokenHeader)
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "service token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"auth","error_description":"service token required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
