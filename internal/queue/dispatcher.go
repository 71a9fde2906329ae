package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"

	"rafflekeeper/apps/backend/internal/logger"
	"rafflekeeper/apps/backend/internal/middleware"
)

// Publisher hands due jobs to the worker pool. *nsq.Producer satisfies it.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Handler runs one job. A nil return completes the job; an error schedules
// a retry or dead-letters the job once its attempts are spent.
type Handler func(ctx context.Context, job *Job) error

type DispatcherOptions struct {
	Topic        string
	PollInterval time.Duration
	StuckAfter   time.Duration
	JobTimeout   time.Duration
	BatchSize    int
	// OnTransition is called after a job reaches completed, delayed (retry)
	// or failed.
	OnTransition func(job *Job, to Status)
}

// Dispatcher is the consumer side of the queue. Its promoter publishes due
// jobs to NSQ and HandleMessage executes them on the NSQ worker pool.
type Dispatcher struct {
	store Store
	pub   Publisher
	opts  DispatcherOptions
	now   func() time.Time

	mu      sync.RWMutex
	handler Handler
}

func NewDispatcher(store Store, pub Publisher, opts DispatcherOptions) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = 10 * time.Minute
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 3 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Dispatcher{store: store, pub: pub, opts: opts, now: time.Now}
}

func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Consume registers the handler invoked for every job that becomes due.
func (d *Dispatcher) Consume(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// HandleMessage implements nsq.Handler.
func (d *Dispatcher) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}
	var msg message
	if err := json.Unmarshal(m.Body, &msg); err != nil || msg.JobID == "" {
		slog.Error("poison pill: invalid job message", "error", err, "body", string(m.Body))
		return nil
	}

	ctx := context.Background()
	if msg.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, msg.CorrelationID)
	}
	return d.Process(ctx, msg.JobID)
}

// Process acquires and runs a single job. Duplicate deliveries of a job that
// is no longer waiting are dropped.
func (d *Dispatcher) Process(ctx context.Context, jobID string) error {
	d.mu.RLock()
	h := d.handler
	d.mu.RUnlock()
	if h == nil {
		return errors.New("no handler registered")
	}

	job, err := d.store.Acquire(ctx, jobID, d.now())
	if errors.Is(err, ErrNotAcquired) {
		slog.DebugContext(ctx, "job already taken, dropping delivery", "job_id", jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire job %s: %w", jobID, err)
	}

	ctx = logger.WithJob(ctx, job.ID)
	slog.InfoContext(ctx, "job started", "queue", job.Queue, "key", job.Key, "attempt", job.Attempt, "max_attempts", job.MaxAttempts)

	runCtx, cancel := context.WithTimeout(ctx, d.opts.JobTimeout)
	runErr := safeRun(runCtx, h, job)
	cancel()

	now := d.now()
	if runErr == nil {
		if err := d.store.Complete(ctx, job.ID, now); err != nil {
			return fmt.Errorf("complete job %s: %w", job.ID, err)
		}
		slog.InfoContext(ctx, "job completed", "key", job.Key, "attempt", job.Attempt)
		d.transition(job, StatusCompleted)
		return nil
	}

	if job.Exhausted() {
		if err := d.store.Fail(ctx, job.ID, runErr.Error(), now); err != nil {
			return fmt.Errorf("dead-letter job %s: %w", job.ID, err)
		}
		slog.ErrorContext(ctx, "job dead-lettered", "key", job.Key, "attempt", job.Attempt, "max_attempts", job.MaxAttempts, "error", runErr)
		d.transition(job, StatusFailed)
		return nil
	}

	delay := job.Backoff().Delay(job.Attempt)
	if err := d.store.Reschedule(ctx, job.ID, now.Add(delay), runErr.Error(), now); err != nil {
		return fmt.Errorf("reschedule job %s: %w", job.ID, err)
	}
	slog.WarnContext(ctx, "job failed, retrying", "key", job.Key, "attempt", job.Attempt, "max_attempts", job.MaxAttempts, "retry_in", delay, "error", runErr)
	d.transition(job, StatusDelayed)
	return nil
}

func safeRun(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return h(ctx, job)
}

func (d *Dispatcher) transition(job *Job, to Status) {
	if d.opts.OnTransition != nil {
		d.opts.OnTransition(job, to)
	}
}

// Promote publishes every due delayed job once. Jobs whose publish fails go
// back to delayed and are picked up on the next pass.
func (d *Dispatcher) Promote(ctx context.Context) (int, error) {
	jobs, err := d.store.PromoteDue(ctx, d.now(), d.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("promote due jobs: %w", err)
	}

	published := 0
	for _, j := range jobs {
		body, _ := json.Marshal(message{JobID: j.ID, CorrelationID: j.CorrelationID})
		if err := d.pub.Publish(d.opts.Topic, body); err != nil {
			slog.ErrorContext(ctx, "failed to publish due job", "job_id", j.ID, "key", j.Key, "error", err)
			if derr := d.store.Demote(ctx, j.ID, d.now()); derr != nil {
				slog.ErrorContext(ctx, "failed to demote job after publish error", "job_id", j.ID, "error", derr)
			}
			continue
		}
		published++
	}
	return published, nil
}

// Reap sends jobs stuck in waiting or active back through the retry path.
func (d *Dispatcher) Reap(ctx context.Context) (int64, error) {
	now := d.now()
	n, err := d.store.ResetStuck(ctx, now.Add(-d.opts.StuckAfter), now)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	if n > 0 {
		slog.WarnContext(ctx, "reset stuck jobs", "count", n)
	}
	return n, nil
}

// Run drives promotion and stuck-job recovery until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	promote := time.NewTicker(d.opts.PollInterval)
	defer promote.Stop()
	reap := time.NewTicker(d.opts.StuckAfter / 2)
	defer reap.Stop()

	slog.Info("dispatcher started", "topic", d.opts.Topic, "poll_interval", d.opts.PollInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopped")
			return nil
		case <-promote.C:
			if _, err := d.Promote(ctx); err != nil && ctx.Err() == nil {
				slog.Error("promotion pass failed", "error", err)
			}
		case <-reap.C:
			if _, err := d.Reap(ctx); err != nil && ctx.Err() == nil {
				slog.Error("stuck job sweep failed", "error", err)
			}
		}
	}
}
