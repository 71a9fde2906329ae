package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"rafflekeeper/apps/backend/internal/ledger"
	"rafflekeeper/apps/backend/internal/logger"
	"rafflekeeper/apps/backend/internal/metrics"
)

// Ledger is the slice of the ledger client the executor needs.
// *ledger.Client satisfies it.
type Ledger interface {
	CurrentRoundID(ctx context.Context) (*big.Int, error)
	GetRound(ctx context.Context, id *big.Int) (*ledger.Round, error)
	GetEntryCount(ctx context.Context, id *big.Int) (*big.Int, error)
	GetWinners(ctx context.Context, id *big.Int) ([]common.Address, error)
	SelectWinners(ctx context.Context) (common.Hash, error)
}

type Kind string

const (
	KindSettled          Kind = "settled"
	KindAlreadyCompleted Kind = "already_completed"
	KindNoEntries        Kind = "no_entries"
	KindNotCurrent       Kind = "not_current"
)

// ErrUnconfirmed means the settlement transaction was mined but the ledger
// still reports the round open.
var ErrUnconfirmed = errors.New("settlement mined but round still open")

type Outcome struct {
	Kind    Kind
	RoundID *big.Int
	TxHash  common.Hash
	Winners []common.Address
}

// Noop reports whether the outcome left the ledger untouched.
func (o Outcome) Noop() bool {
	return o.Kind != KindSettled
}

// SubmissionError is a settlement transaction that failed for a reason other
// than the round being already completed or empty. It is retryable.
type SubmissionError struct {
	RoundID *big.Int
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("settle round %s: %v", e.RoundID, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

type Executor struct {
	ledger  Ledger
	timeout time.Duration
	now     func() time.Time
	group   singleflight.Group
}

type Option func(*Executor)

// WithTimeout bounds one settlement, from re-validation to confirmation.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func NewExecutor(l Ledger, opts ...Option) *Executor {
	e := &Executor{ledger: l, timeout: 3 * time.Minute, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Settle re-validates the round against the ledger and, if it is still
// actionable, submits the settlement transaction and waits for it to be
// mined. Concurrent calls for the same round share one execution.
func (e *Executor) Settle(ctx context.Context, roundID *big.Int) (Outcome, error) {
	if roundID == nil || roundID.Sign() <= 0 {
		return Outcome{}, fmt.Errorf("invalid round id %v", roundID)
	}
	v, err, shared := e.group.Do(roundID.String(), func() (interface{}, error) {
		return e.settle(ctx, roundID)
	})
	if shared {
		slog.DebugContext(ctx, "joined in-flight settlement", "round_id", roundID.String())
	}
	out, _ := v.(Outcome)
	return out, err
}

func (e *Executor) settle(ctx context.Context, roundID *big.Int) (Outcome, error) {
	ctx = logger.WithRound(ctx, roundID.String())
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	start := e.now()
	out, err := e.run(ctx, roundID)
	if m := metrics.Get(); m != nil {
		if err != nil {
			m.IncSettlementOutcome("error")
		} else {
			m.IncSettlementOutcome(string(out.Kind))
		}
		if err == nil && out.Kind == KindSettled {
			m.ObserveSettlementDuration(e.now().Sub(start).Seconds())
		}
	}
	return out, err
}

func (e *Executor) run(ctx context.Context, roundID *big.Int) (Outcome, error) {
	out := Outcome{RoundID: roundID}

	round, err := e.ledger.GetRound(ctx, roundID)
	if err != nil {
		return out, fmt.Errorf("re-fetch round %s: %w", roundID, err)
	}
	if round.Completed {
		slog.InfoContext(ctx, "round already completed, nothing to settle")
		out.Kind = KindAlreadyCompleted
		return out, nil
	}

	entries, err := e.ledger.GetEntryCount(ctx, roundID)
	if err != nil {
		return out, fmt.Errorf("read entry count for round %s: %w", roundID, err)
	}
	if entries.Sign() == 0 {
		slog.WarnContext(ctx, "round has no entries, skipping settlement")
		out.Kind = KindNoEntries
		return out, nil
	}

	// selectWinners only ever settles the ledger's current round.
	current, err := e.ledger.CurrentRoundID(ctx)
	if err != nil {
		return out, fmt.Errorf("read current round: %w", err)
	}
	if current.Cmp(roundID) != 0 {
		slog.ErrorContext(ctx, "refusing to settle: round is open but not current", "current_round", current.String())
		out.Kind = KindNotCurrent
		return out, nil
	}

	slog.InfoContext(ctx, "submitting settlement", "entries", entries.String())
	hash, err := e.ledger.SelectWinners(ctx)
	switch {
	case errors.Is(err, ledger.ErrAlreadyCompleted):
		slog.InfoContext(ctx, "settlement reverted: round already completed")
		out.Kind = KindAlreadyCompleted
		return out, nil
	case errors.Is(err, ledger.ErrNoEntries):
		slog.WarnContext(ctx, "settlement reverted: round has no entries")
		out.Kind = KindNoEntries
		return out, nil
	case err != nil:
		return out, &SubmissionError{RoundID: roundID, Err: err}
	}
	out.TxHash = hash

	after, err := e.ledger.GetRound(ctx, roundID)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "settlement mined but round could not be re-read", "tx", hash.Hex(), "error", err)
	case !after.Completed:
		slog.ErrorContext(ctx, "settlement mined but round is not marked completed", "tx", hash.Hex())
		return out, fmt.Errorf("round %s tx %s: %w", roundID, hash.Hex(), ErrUnconfirmed)
	}
	out.Kind = KindSettled

	winners, err := e.ledger.GetWinners(ctx, roundID)
	if err != nil {
		// The transaction is mined; a failed lookup must not trigger a retry.
		slog.ErrorContext(ctx, "settled but failed to read winners", "tx", hash.Hex(), "error", err)
		return out, nil
	}
	out.Winners = winners
	slog.InfoContext(ctx, "round settled", "tx", hash.Hex(), "winners", addressStrings(winners))
	return out, nil
}

func addressStrings(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}
