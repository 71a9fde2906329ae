package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"rafflekeeper/apps/backend/internal/metrics"
	"rafflekeeper/apps/backend/internal/middleware"
)

// maxBodyBytes caps a notification body.
const maxBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Handle always answers 200 so the notifier does not retry; failures are
// reported in the body and the logs.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var ev Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		slog.ErrorContext(ctx, "failed to decode notification", "error", err, "correlationId", correlationID)
		countNotification("unknown", "error")
		h.write(ctx, w, Response{Success: false, Message: "Error processing webhook", Error: err.Error()})
		return
	}

	result, err := h.service.Process(ctx, ev)
	if err != nil {
		slog.ErrorContext(ctx, "error processing webhook", "op", ev.Op, "entity", ev.Entity, "error", err, "correlationId", correlationID)
		countNotification(ev.Op, "error")
		h.write(ctx, w, Response{Success: false, Message: "Error processing webhook", Error: err.Error()})
		return
	}

	countNotification(ev.Op, result)
	h.write(ctx, w, Response{Success: true, Message: "Webhook processed successfully"})
}

func (h *Handler) write(ctx context.Context, w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func countNotification(op, result string) {
	if m := metrics.Get(); m != nil {
		m.IncNotification(op, result)
	}
}
