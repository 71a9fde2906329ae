package round

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"rafflekeeper/apps/backend/internal/ledger"
	"rafflekeeper/apps/backend/internal/middleware"
)

// Reader is the read surface of the ledger client.
type Reader interface {
	CurrentRoundID(ctx context.Context) (*big.Int, error)
	GetRound(ctx context.Context, id *big.Int) (*ledger.Round, error)
	GetEntryCount(ctx context.Context, id *big.Int) (*big.Int, error)
	GetWinners(ctx context.Context, id *big.Int) ([]common.Address, error)
	GetRunnerUps(ctx context.Context, id *big.Int) ([]common.Address, error)
}

type Handler struct {
	reader Reader
}

func NewHandler(r Reader) *Handler {
	return &Handler{reader: r}
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := h.reader.CurrentRoundID(ctx)
	if err != nil {
		h.ledgerError(ctx, w, "failed to read current round", err)
		return
	}
	h.writeRound(ctx, w, id)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roundID(w, r)
	if !ok {
		return
	}
	h.writeRound(r.Context(), w, id)
}

func (h *Handler) Winners(w http.ResponseWriter, r *http.Request) {
	h.addresses(w, r, "winners", h.reader.GetWinners)
}

func (h *Handler) RunnerUps(w http.ResponseWriter, r *http.Request) {
	h.addresses(w, r, "runner-ups", h.reader.GetRunnerUps)
}

func (h *Handler) writeRound(ctx context.Context, w http.ResponseWriter, id *big.Int) {
	rd, err := h.reader.GetRound(ctx, id)
	if err != nil {
		h.ledgerError(ctx, w, "failed to read round", err)
		return
	}
	entries, err := h.reader.GetEntryCount(ctx, id)
	if err != nil {
		h.ledgerError(ctx, w, "failed to read entry count", err)
		return
	}
	h.writeJSON(ctx, w, map[string]interface{}{"data": toView(rd, entries)})
}

func (h *Handler) addresses(w http.ResponseWriter, r *http.Request, what string, get func(context.Context, *big.Int) ([]common.Address, error)) {
	ctx := r.Context()
	id, ok := h.roundID(w, r)
	if !ok {
		return
	}
	addrs, err := get(ctx, id)
	if err != nil {
		h.ledgerError(ctx, w, "failed to read "+what, err)
		return
	}
	h.writeJSON(ctx, w, map[string]interface{}{
		"data": hexes(addrs),
		"meta": map[string]interface{}{"round_id": id.String(), "count": len(addrs)},
	})
}

func (h *Handler) roundID(w http.ResponseWriter, r *http.Request) (*big.Int, bool) {
	raw := r.PathValue("id")
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() <= 0 {
		h.writeError(r.Context(), w, "INVALID_ID", "round id must be a positive integer", http.StatusBadRequest)
		return nil, false
	}
	return id, true
}

func (h *Handler) ledgerError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	slog.ErrorContext(ctx, msg, "error", err, "correlationId", middleware.GetCorrelationID(ctx))
	switch {
	case errors.Is(err, ledger.ErrRoundNotFound):
		h.writeError(ctx, w, "NOT_FOUND", "Round not found", http.StatusNotFound)
	case ledger.IsTransient(err):
		h.writeError(ctx, w, "LEDGER_UNAVAILABLE", err.Error(), http.StatusServiceUnavailable)
	default:
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
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
