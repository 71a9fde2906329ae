package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"rafflekeeper/apps/backend/internal/middleware"
	"rafflekeeper/apps/backend/internal/queue"
)

type JobCounter interface {
	Counts(ctx context.Context) (map[queue.Status]int, error)
}

type RoundReader interface {
	CurrentRoundID(ctx context.Context) (*big.Int, error)
}

type Handler struct {
	jobs   JobCounter
	rounds RoundReader
}

func NewHandler(j JobCounter, r RoundReader) *Handler {
	return &Handler{jobs: j, rounds: r}
}

type StatsResponse struct {
	CurrentRound string         `json:"current_round,omitempty"`
	Jobs         map[string]int `json:"jobs"`
	FailedJobs   int            `json:"failed_jobs"`
	PendingJobs  int            `json:"pending_jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	counts, err := h.jobs.Counts(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{Jobs: map[string]int{}}
	for _, s := range []queue.Status{queue.StatusWaiting, queue.StatusDelayed, queue.StatusActive, queue.StatusCompleted, queue.StatusFailed} {
		resp.Jobs[string(s)] = counts[s]
	}
	resp.FailedJobs = counts[queue.StatusFailed]
	resp.PendingJobs = counts[queue.StatusWaiting] + counts[queue.StatusDelayed] + counts[queue.StatusActive]

	// Job counts are still useful when the ledger is unreachable.
	if id, err := h.rounds.CurrentRoundID(ctx); err != nil {
		slog.WarnContext(ctx, "failed to read current round", "error", err, "correlationId", correlationID)
	} else {
		resp.CurrentRound = id.String()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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
