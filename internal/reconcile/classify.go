package reconcile

import (
	"math"
	"math/big"
	"time"

	"rafflekeeper/apps/backend/internal/ledger"
)

type State string

const (
	StateSettled          State = "settled"
	StateOverdue          State = "overdue"
	StateScheduledAlready State = "scheduled_already"
	StateNeedsScheduling  State = "needs_scheduling"
)

// Snapshot is the part of a round the decision depends on. EndTime is in
// ledger seconds.
type Snapshot struct {
	ID        *big.Int
	EndTime   *big.Int
	Completed bool
}

func SnapshotOf(r *ledger.Round) Snapshot {
	return Snapshot{ID: r.ID, EndTime: r.EndTime, Completed: r.Completed}
}

var (
	thousand   = big.NewInt(1000)
	maxDelayMS = big.NewInt(math.MaxInt64 / int64(time.Millisecond))
)

// Classify maps a snapshot to its evaluation state. The returned delay is
// only meaningful for StateNeedsScheduling.
func Classify(s Snapshot, now time.Time, pending bool) (State, time.Duration) {
	if s.Completed {
		return StateSettled, 0
	}
	delay := delayUntil(s.EndTime, now)
	if delay <= 0 {
		return StateOverdue, 0
	}
	if pending {
		return StateScheduledAlready, delay
	}
	return StateNeedsScheduling, delay
}

// delayUntil converts the ledger end time to milliseconds and subtracts the
// local wall clock.
func delayUntil(endSeconds *big.Int, now time.Time) time.Duration {
	if endSeconds == nil {
		return 0
	}
	ms := new(big.Int).Mul(endSeconds, thousand)
	ms.Sub(ms, big.NewInt(now.UnixMilli()))
	if ms.Sign() <= 0 {
		return 0
	}
	if ms.Cmp(maxDelayMS) > 0 {
		ms.Set(maxDelayMS)
	}
	return time.Duration(ms.Int64()) * time.Millisecond
}
