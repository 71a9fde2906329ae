package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/singleflight"

	"rafflekeeper/apps/backend/internal/config"
	"rafflekeeper/apps/backend/internal/ledger"
	"rafflekeeper/apps/backend/internal/logger"
	"rafflekeeper/apps/backend/internal/metrics"
	"rafflekeeper/apps/backend/internal/queue"
	"rafflekeeper/apps/backend/internal/settlement"
)

// Reader is the ledger read surface the engine consults for ground truth.
type Reader interface {
	CurrentRoundID(ctx context.Context) (*big.Int, error)
	GetRound(ctx context.Context, id *big.Int) (*ledger.Round, error)
}

// Scheduler is the delayed queue. *queue.Queue satisfies it.
type Scheduler interface {
	ListPending(ctx context.Context, key string) ([]queue.Job, error)
	Enqueue(ctx context.Context, key string, payload interface{}, delay time.Duration, opts queue.EnqueueOptions) (*queue.Job, error)
}

type Settler interface {
	Settle(ctx context.Context, roundID *big.Int) (settlement.Outcome, error)
}

const (
	TriggerStartup      = "startup"
	TriggerNotification = "notification"
)

// Decision records what one evaluation did.
type Decision struct {
	RoundID *big.Int
	State   State
	Delay   time.Duration
	JobID   string
	Outcome *settlement.Outcome
}

// FatalInitError means startup reconciliation could not establish ground
// truth. The process must exit.
type FatalInitError struct {
	RoundID *big.Int
	Err     error
}

func (e *FatalInitError) Error() string {
	if e.RoundID == nil {
		return fmt.Sprintf("startup reconciliation: %v", e.Err)
	}
	return fmt.Sprintf("startup reconciliation of round %s: %v", e.RoundID, e.Err)
}

func (e *FatalInitError) Unwrap() error {
	return e.Err
}

type Engine struct {
	reader     Reader
	jobs       Scheduler
	settler    Settler
	now        func() time.Time
	retryDelay time.Duration
	schedule   singleflight.Group
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRetryDelay sets how long to wait before retrying an overdue round
// whose immediate settlement failed.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryDelay = d
		}
	}
}

func NewEngine(reader Reader, jobs Scheduler, settler Settler, opts ...Option) *Engine {
	e := &Engine{reader: reader, jobs: jobs, settler: settler, now: time.Now, retryDelay: time.Second}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Startup evaluates the current round and the one before it. Any failure to
// read the ledger is returned as a *FatalInitError.
func (e *Engine) Startup(ctx context.Context) ([]Decision, error) {
	current, err := e.reader.CurrentRoundID(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "startup reconciliation: cannot read current round", "error", err)
		return nil, &FatalInitError{Err: err}
	}
	if current.Sign() <= 0 {
		slog.InfoContext(ctx, "no rounds on the ledger yet")
		return nil, nil
	}

	var decisions []Decision
	d, err := e.EvaluateRound(ctx, TriggerStartup, current)
	if err != nil {
		return nil, &FatalInitError{RoundID: current, Err: err}
	}
	decisions = append(decisions, d)

	prev := new(big.Int).Sub(current, big.NewInt(1))
	if prev.Sign() <= 0 {
		return decisions, nil
	}
	d, err = e.EvaluateRound(ctx, TriggerStartup, prev)
	if errors.Is(err, ledger.ErrRoundNotFound) {
		return decisions, nil
	}
	if err != nil {
		return nil, &FatalInitError{RoundID: prev, Err: err}
	}
	return append(decisions, d), nil
}

// HandleNotification reconciles after a change notification for snap. The
// ledger's current round id wins whenever it disagrees with the snapshot.
func (e *Engine) HandleNotification(ctx context.Context, snap Snapshot) ([]Decision, error) {
	if snap.ID == nil || snap.ID.Sign() <= 0 {
		return nil, fmt.Errorf("notification without a round id")
	}
	ctx = logger.WithRound(ctx, snap.ID.String())

	current, err := e.reader.CurrentRoundID(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read current round", "error", err)
		return nil, err
	}

	if !snap.Completed {
		if snap.EndTime == nil {
			d, err := e.EvaluateRound(ctx, TriggerNotification, snap.ID)
			if err != nil {
				return nil, err
			}
			return []Decision{d}, nil
		}
		d, err := e.ReconcileSnapshot(ctx, TriggerNotification, snap)
		if err != nil {
			return nil, err
		}
		return []Decision{d}, nil
	}

	if snap.ID.Cmp(current) >= 0 {
		// Completion reported but the ledger has not opened a later round.
		slog.InfoContext(ctx, "completion notified ahead of the ledger, re-reading round", "current_round", current.String())
		d, err := e.EvaluateRound(ctx, TriggerNotification, snap.ID)
		if err != nil {
			return nil, err
		}
		return []Decision{d}, nil
	}

	settled := Decision{RoundID: snap.ID, State: StateSettled}
	e.record(ctx, TriggerNotification, settled)

	next := new(big.Int).Add(snap.ID, big.NewInt(1))
	d, err := e.EvaluateRound(ctx, TriggerNotification, next)
	if err != nil {
		return nil, err
	}
	return []Decision{settled, d}, nil
}

// EvaluateRound reads the round from the ledger and reconciles it.
func (e *Engine) EvaluateRound(ctx context.Context, trigger string, id *big.Int) (Decision, error) {
	ctx = logger.WithRound(ctx, id.String())
	round, err := e.reader.GetRound(ctx, id)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read round", "trigger", trigger, "error", err)
		return Decision{RoundID: id}, fmt.Errorf("read round %s: %w", id, err)
	}
	return e.ReconcileSnapshot(ctx, trigger, SnapshotOf(round))
}

// ReconcileSnapshot classifies snap and carries out the action for its
// evaluation state.
func (e *Engine) ReconcileSnapshot(ctx context.Context, trigger string, snap Snapshot) (Decision, error) {
	ctx = logger.WithRound(ctx, snap.ID.String())
	state, _ := Classify(snap, e.now(), false)

	var d Decision
	var err error
	switch state {
	case StateSettled:
		d = Decision{RoundID: snap.ID, State: StateSettled}
	case StateOverdue:
		d, err = e.settleNow(ctx, snap.ID)
	default:
		d, err = e.scheduleOnce(ctx, snap)
	}
	if err != nil {
		slog.ErrorContext(ctx, "round evaluation failed", "trigger", trigger, "state", string(state), "error", err)
		return d, err
	}
	e.record(ctx, trigger, d)
	return d, nil
}

func (e *Engine) settleNow(ctx context.Context, id *big.Int) (Decision, error) {
	// A settlement that has started must reach the chain or the queue even
	// when the triggering request or startup goes away.
	ctx = context.WithoutCancel(ctx)
	d := Decision{RoundID: id, State: StateOverdue}
	out, err := e.settler.Settle(ctx, id)
	if err == nil {
		d.Outcome = &out
		return d, nil
	}
	if ledger.IsTransient(err) || errors.Is(err, ledger.ErrRoundNotFound) {
		return d, err
	}

	// Submission failed: hand the round to the queue so its retry policy applies.
	slog.WarnContext(ctx, "immediate settlement failed, queueing retry", "retry_in", e.retryDelay, "error", err)
	job, _, err := e.enqueueOnce(ctx, id, e.retryDelay)
	if err != nil {
		return d, err
	}
	if job != nil {
		d.JobID = job.ID
	}
	d.Delay = e.retryDelay
	return d, nil
}

func (e *Engine) scheduleOnce(ctx context.Context, snap Snapshot) (Decision, error) {
	_, wait := Classify(snap, e.now(), false)
	job, existed, err := e.enqueueOnce(ctx, snap.ID, wait)
	if err != nil {
		return Decision{RoundID: snap.ID, State: StateNeedsScheduling}, err
	}
	state, delay := Classify(snap, e.now(), existed)
	d := Decision{RoundID: snap.ID, State: state, Delay: delay}
	if job != nil {
		d.JobID = job.ID
	}
	return d, nil
}

const enqueueTimeout = 30 * time.Second

type enqueueResult struct {
	job     *queue.Job
	existed bool
}

// enqueueOnce checks for a pending job and enqueues only if there is none.
// Concurrent callers for the same round share one check-and-enqueue.
func (e *Engine) enqueueOnce(ctx context.Context, id *big.Int, delay time.Duration) (*queue.Job, bool, error) {
	key := id.String()
	v, err, _ := e.schedule.Do(key, func() (interface{}, error) {
		// Shared by every caller for the round, so no single caller may cancel it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
		defer cancel()

		pending, err := e.jobs.ListPending(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("list pending jobs for round %s: %w", key, err)
		}
		if len(pending) > 0 {
			return enqueueResult{job: &pending[0], existed: true}, nil
		}
		job, err := e.jobs.Enqueue(ctx, key, settlement.NewJobPayload(id), delay, queue.EnqueueOptions{})
		if err != nil {
			return nil, err
		}
		if m := metrics.Get(); m != nil {
			m.IncJobsEnqueued(config.QueueSettlement)
		}
		return enqueueResult{job: job}, nil
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(enqueueResult)
	return r.job, r.existed, nil
}

func (e *Engine) record(ctx context.Context, trigger string, d Decision) {
	attrs := []any{"trigger", trigger, "state", string(d.State)}
	if d.Delay > 0 {
		attrs = append(attrs, "delay", d.Delay)
	}
	if d.JobID != "" {
		attrs = append(attrs, "job_id", d.JobID)
	}
	if d.Outcome != nil {
		attrs = append(attrs, "outcome", string(d.Outcome.Kind))
	}
	slog.InfoContext(ctx, "round evaluated", attrs...)
	if m := metrics.Get(); m != nil {
		m.IncEvaluation(trigger, string(d.State))
	}
}
