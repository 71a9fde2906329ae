package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// WebhookSecretHeader is the header the notifier signs its calls with.
const WebhookSecretHeader = "goldsky-webhook-secret"

var ErrInvalidCredential = errors.New("invalid webhook secret")

// SharedSecret rejects requests whose header does not carry the expected
// secret. Rejected requests never reach next.
func SharedSecret(header, secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(header)
		if secret == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			slog.WarnContext(r.Context(), "rejected request", "path", r.URL.Path, "error", ErrInvalidCredential) // #nosec G706
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			resp := map[string]interface{}{
				"error": map[string]string{
					"code":    "UNAUTHORIZED",
					"message": ErrInvalidCredential.Error(),
				},
				"correlationId": GetCorrelationID(r.Context()),
			}
			if err := json.NewEncoder(w).Encode(resp); err != nil {
				slog.Error("failed to encode error response", "error", err)
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}
