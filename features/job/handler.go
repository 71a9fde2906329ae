package job

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"rafflekeeper/apps/backend/internal/middleware"
	"rafflekeeper/apps/backend/internal/queue"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "listing failed jobs", "correlationId", correlationID)

	jobs, err := h.service.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJobs(ctx, w, jobs)
}

// Pending lists the non-terminal jobs for one round (?key=<round id>).
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	key := r.URL.Query().Get("key")
	if key == "" {
		h.writeError(ctx, w, "INVALID_ARGUMENT", "key query parameter is required", http.StatusBadRequest)
		return
	}

	jobs, err := h.service.Pending(ctx, key)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list pending jobs", "key", key, "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJobs(ctx, w, jobs)
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	id := r.PathValue("id")

	slog.InfoContext(ctx, "retrying job", "id", id, "correlationId", correlationID)

	if err := h.service.Retry(ctx, id); err != nil {
		slog.ErrorContext(ctx, "failed to retry job", "id", id, "error", err, "correlationId", correlationID)
		switch {
		case errors.Is(err, queue.ErrJobNotFound):
			h.writeError(ctx, w, "NOT_FOUND", "Job not found", http.StatusNotFound)
		case errors.Is(err, ErrNotFailed), errors.Is(err, queue.ErrPendingExists):
			h.writeError(ctx, w, "CONFLICT", err.Error(), http.StatusConflict)
		default:
			h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": "job retried"}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeJobs(ctx context.Context, w http.ResponseWriter, jobs []queue.Job) {
	if jobs == nil {
		jobs = []queue.Job{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": jobs,
		"meta": map[string]int{"count": len(jobs)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
