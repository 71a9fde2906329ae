package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSharedSecret(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		header     string
		wantStatus int
		wantCalled bool
	}{
		{name: "Match", secret: "s3cret", header: "s3cret", wantStatus: http.StatusOK, wantCalled: true},
		{name: "Mismatch", secret: "s3cret", header: "wrong", wantStatus: http.StatusUnauthorized},
		{name: "Missing Header", secret: "s3cret", header: "", wantStatus: http.StatusUnauthorized},
		{name: "Unconfigured Secret", secret: "", header: "", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := SharedSecret(WebhookSecretHeader, tt.secret, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest("POST", "/webhook", nil)
			if tt.header != "" {
				req.Header.Set(WebhookSecretHeader, tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCalled, called)
		})
	}
}
