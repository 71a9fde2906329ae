package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// CorrelationHeader carries the correlation id on requests and responses.
const CorrelationHeader = "X-Correlation-ID"

// maxCorrelationIDLen bounds caller-supplied ids; longer ones are replaced.
const maxCorrelationIDLen = 128

type key int

const CorrelationKey key = 0

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// CorrelationID tags the request context with the caller's correlation id,
// or a fresh one, and echoes it back. The id follows any job the request
// schedules.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" || len(id) > maxCorrelationIDLen {
			id = uuid.New().String()
		}

		ctx := WithCorrelationID(r.Context(), id)
		w.Header().Set(CorrelationHeader, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		slog.InfoContext(ctx, "request received", "method", r.Method, "path", r.URL.Path) // #nosec G706 -- r.URL.Path is parsed by Go's net/http
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(ctx))

		slog.InfoContext(ctx, "request completed", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start)) // #nosec G706
	})
}

// CorrelationIDFrom returns the correlation id carried by ctx, if any.
func CorrelationIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(CorrelationKey).(string)
	return id, ok && id != ""
}

// GetCorrelationID is CorrelationIDFrom for log fields and response bodies.
func GetCorrelationID(ctx context.Context) string {
	if id, ok := CorrelationIDFrom(ctx); ok {
		return id
	}
	return "unknown"
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationKey, id)
}
