package queue

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusDelayed   Status = "delayed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// pendingStatuses are the non-terminal states. At most one job per key
// should be in one of them.
var pendingStatuses = []Status{StatusWaiting, StatusDelayed, StatusActive}

type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Key         string          `json:"key"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	BackoffMS   int64           `json:"backoff_ms"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	LastError   string          `json:"last_error,omitempty"`
	// CorrelationID is the id of the request that scheduled the job. It
	// travels with every delivery so worker logs join the request's.
	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (j *Job) Backoff() Backoff {
	return Backoff{Base: time.Duration(j.BackoffMS) * time.Millisecond}
}

// Exhausted reports whether the attempt that just ran was the last one.
func (j *Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}

// Backoff is an exponential retry policy: Base * 2^(attempt-1), where
// attempt is the 1-based number of the attempt that failed.
type Backoff struct {
	Base time.Duration
}

const maxBackoffShift = 20

func (b Backoff) Delay(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return b.Base << uint(shift)
}

type EnqueueOptions struct {
	MaxAttempts int
	Backoff     Backoff
}

// message is the NSQ body published when a job becomes due.
type message struct {
	JobID         string `json:"job_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
