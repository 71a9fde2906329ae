package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrNotAcquired means the job left the waiting state before this
	// worker got to it, usually a duplicate delivery.
	ErrNotAcquired = errors.New("job not acquired")
	// ErrPendingExists means the key already has a non-terminal job.
	ErrPendingExists = errors.New("key already has a pending job")
)

type Store interface {
	Insert(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	ListByKey(ctx context.Context, queue, key string, statuses []Status) ([]Job, error)
	ListByStatus(ctx context.Context, queue string, status Status) ([]Job, error)
	PromoteDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
	Demote(ctx context.Context, id string, now time.Time) error
	Acquire(ctx context.Context, id string, now time.Time) (*Job, error)
	Complete(ctx context.Context, id string, now time.Time) error
	Reschedule(ctx context.Context, id string, at time.Time, lastErr string, now time.Time) error
	Fail(ctx context.Context, id string, lastErr string, now time.Time) error
	ResetStuck(ctx context.Context, cutoff, now time.Time) (int64, error)
	Revive(ctx context.Context, id string, now time.Time) error
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

const jobColumns = `id, queue, job_key, payload, status, attempt, max_attempts, backoff_ms, scheduled_at, last_error, created_at, updated_at, correlation_id`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(s scanner) (*Job, error) {
	j := &Job{}
	var payload []byte
	var status string
	var lastErr, correlationID sql.NullString
	err := s.Scan(&j.ID, &j.Queue, &j.Key, &payload, &status, &j.Attempt, &j.MaxAttempts, &j.BackoffMS,
		&j.ScheduledAt, &lastErr, &j.CreatedAt, &j.UpdatedAt, &correlationID)
	if err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	j.Status = Status(status)
	j.LastError = lastErr.String
	j.CorrelationID = correlationID.String
	return j, nil
}

func (r *PostgresStore) queryJobs(ctx context.Context, query string, args ...interface{}) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresStore) Insert(ctx context.Context, j *Job) error {
	query := `INSERT INTO scheduled_jobs (id, queue, job_key, payload, status, attempt, max_attempts, backoff_ms, scheduled_at, correlation_id)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, NULLIF($9, '')) RETURNING created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, j.ID, j.Queue, j.Key, []byte(j.Payload), string(j.Status), j.MaxAttempts, j.BackoffMS, j.ScheduledAt, j.CorrelationID).
		Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (r *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE id = $1`
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func statusStrings(statuses []Status) pq.StringArray {
	out := make(pq.StringArray, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *PostgresStore) ListByKey(ctx context.Context, queue, key string, statuses []Status) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE queue = $1 AND job_key = $2 AND status = ANY($3) ORDER BY scheduled_at ASC`
	return r.queryJobs(ctx, query, queue, key, statusStrings(statuses))
}

func (r *PostgresStore) ListByStatus(ctx context.Context, queue string, status Status) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE queue = $1 AND status = $2 ORDER BY updated_at DESC`
	return r.queryJobs(ctx, query, queue, string(status))
}

// PromoteDue flips due delayed jobs to waiting and returns them. Concurrent
// promoters skip each other's rows.
func (r *PostgresStore) PromoteDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	query := `UPDATE scheduled_jobs SET status = 'waiting', updated_at = $1
		WHERE id IN (
			SELECT id FROM scheduled_jobs
			WHERE status = 'delayed' AND scheduled_at <= $1
			ORDER BY scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns
	return r.queryJobs(ctx, query, now, limit)
}

func (r *PostgresStore) Demote(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE scheduled_jobs SET status = 'delayed', updated_at = $2 WHERE id = $1 AND status = 'waiting'`
	_, err := r.db.ExecContext(ctx, query, id, now)
	return err
}

func (r *PostgresStore) Acquire(ctx context.Context, id string, now time.Time) (*Job, error) {
	query := `UPDATE scheduled_jobs SET status = 'active', attempt = attempt + 1, updated_at = $2
		WHERE id = $1 AND status = 'waiting'
		RETURNING ` + jobColumns
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotAcquired
	}
	return j, err
}

func (r *PostgresStore) Complete(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE scheduled_jobs SET status = 'completed', updated_at = $2 WHERE id = $1 AND status = 'active'`
	return r.execOne(ctx, query, id, now)
}

func (r *PostgresStore) Reschedule(ctx context.Context, id string, at time.Time, lastErr string, now time.Time) error {
	query := `UPDATE scheduled_jobs SET status = 'delayed', scheduled_at = $2, last_error = $3, updated_at = $4
		WHERE id = $1 AND status = 'active'`
	return r.execOne(ctx, query, id, at, lastErr, now)
}

func (r *PostgresStore) Fail(ctx context.Context, id string, lastErr string, now time.Time) error {
	query := `UPDATE scheduled_jobs SET status = 'failed', last_error = $2, updated_at = $3 WHERE id = $1 AND status = 'active'`
	return r.execOne(ctx, query, id, lastErr, now)
}

// ResetStuck returns jobs that sat in waiting or active since before cutoff
// to delayed. Active jobs that already used their last attempt fail instead.
func (r *PostgresStore) ResetStuck(ctx context.Context, cutoff, now time.Time) (int64, error) {
	query := `UPDATE scheduled_jobs
		SET status = CASE WHEN status = 'active' AND attempt >= max_attempts THEN 'failed' ELSE 'delayed' END,
			last_error = CASE WHEN status = 'active' THEN 'worker did not report back' ELSE last_error END,
			updated_at = $2
		WHERE status IN ('waiting', 'active') AND updated_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresStore) Revive(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE scheduled_jobs SET status = 'delayed', attempt = 0, scheduled_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'failed'`
	return r.execOne(ctx, query, id, now)
}

func (r *PostgresStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM scheduled_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

func (r *PostgresStore) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %v", ErrJobNotFound, args[0])
	}
	return nil
}
