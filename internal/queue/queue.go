package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rafflekeeper/apps/backend/internal/middleware"
)

// Queue is the producer side of the delayed job queue. It is safe for
// concurrent use; all state lives in the Store.
type Queue struct {
	store    Store
	name     string
	defaults EnqueueOptions
	now      func() time.Time
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(store Store, name string, defaults EnqueueOptions, opts ...Option) *Queue {
	q := &Queue{store: store, name: name, defaults: defaults, now: time.Now}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *Queue) Name() string {
	return q.name
}

// Enqueue schedules payload to run no earlier than now+delay. A non-positive
// delay makes the job due on the next promotion pass.
func (q *Queue) Enqueue(ctx context.Context, key string, payload interface{}, delay time.Duration, opts EnqueueOptions) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = q.defaults.MaxAttempts
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = q.defaults.Backoff
	}

	j := &Job{
		ID:          uuid.New().String(),
		Queue:       q.name,
		Key:         key,
		Payload:     body,
		Status:      StatusDelayed,
		MaxAttempts: opts.MaxAttempts,
		BackoffMS:   opts.Backoff.Base.Milliseconds(),
		ScheduledAt: q.now().Add(delay),
	}
	if id, ok := middleware.CorrelationIDFrom(ctx); ok {
		j.CorrelationID = id
	}
	if err := q.store.Insert(ctx, j); err != nil {
		return nil, fmt.Errorf("insert job for %s: %w", key, err)
	}
	return j, nil
}

// ListPending returns the non-terminal jobs (waiting, delayed, active) for key.
func (q *Queue) ListPending(ctx context.Context, key string) ([]Job, error) {
	return q.store.ListByKey(ctx, q.name, key, pendingStatuses)
}

func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}

// ListDeadLetters returns jobs that exhausted their attempts, newest first.
func (q *Queue) ListDeadLetters(ctx context.Context) ([]Job, error) {
	return q.store.ListByStatus(ctx, q.name, StatusFailed)
}

// Retry moves a dead-lettered job back to delayed with a fresh attempt budget.
// It returns ErrPendingExists when its key has been rescheduled since.
func (q *Queue) Retry(ctx context.Context, id string) error {
	j, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	pending, err := q.ListPending(ctx, j.Key)
	if err != nil {
		return fmt.Errorf("list pending jobs for %s: %w", j.Key, err)
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %s has job %s", ErrPendingExists, j.Key, pending[0].ID)
	}
	return q.store.Revive(ctx, id, q.now())
}

func (q *Queue) Counts(ctx context.Context) (map[Status]int, error) {
	return q.store.CountByStatus(ctx)
}
