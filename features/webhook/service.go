package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"rafflekeeper/apps/backend/internal/reconcile"
)

type Notifier interface {
	HandleNotification(ctx context.Context, snap reconcile.Snapshot) ([]reconcile.Decision, error)
}

type Service struct {
	engine Notifier
}

func NewService(engine Notifier) *Service {
	return &Service{engine: engine}
}

// Process routes a change notification. Only raffle inserts and updates
// reach the reconciliation engine; everything else is acknowledged.
func (s *Service) Process(ctx context.Context, ev Event) (string, error) {
	if !strings.EqualFold(ev.Entity, EntityRaffle) {
		slog.DebugContext(ctx, "ignoring notification", "entity", ev.Entity, "op", ev.Op)
		return "ignored", nil
	}

	switch strings.ToUpper(ev.Op) {
	case OpInsert, OpUpdate:
	case OpDelete:
		slog.InfoContext(ctx, "raffle delete notification received", "old", string(ev.Data.Old))
		return "ignored", nil
	default:
		slog.WarnContext(ctx, "unknown notification operation", "op", ev.Op)
		return "ignored", nil
	}

	snap, err := RaffleSnapshot(ev.Data.New)
	if err != nil {
		return "", err
	}

	decisions, err := s.engine.HandleNotification(ctx, snap)
	if err != nil {
		return "", fmt.Errorf("reconcile round %s: %w", snap.ID, err)
	}
	states := make([]string, len(decisions))
	for i, d := range decisions {
		states[i] = fmt.Sprintf("%s:%s", d.RoundID, d.State)
	}
	slog.InfoContext(ctx, "notification reconciled", "round_id", snap.ID.String(), "op", ev.Op, "decisions", states)
	return "reconciled", nil
}
