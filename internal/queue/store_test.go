package queue_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rafflekeeper/apps/backend/internal/queue"
)

var jobCols = []string{"id", "queue", "job_key", "payload", "status", "attempt", "max_attempts", "backoff_ms", "scheduled_at", "last_error", "created_at", "updated_at", "correlation_id"}

func jobRow(rows *sqlmock.Rows, id, status string, attempt int, at time.Time) *sqlmock.Rows {
	return rows.AddRow(id, "settlement", "7", []byte(`{"round_id":"7"}`), status, attempt, 3, 1000, at, nil, at, at, "req-7")
}

func TestPostgresStore_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := queue.NewPostgresStore(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &queue.Job{ID: "j1", Queue: "settlement", Key: "7", Payload: []byte(`{"round_id":"7"}`),
		Status: queue.StatusDelayed, MaxAttempts: 3, BackoffMS: 1000, ScheduledAt: now, CorrelationID: "req-7"}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO scheduled_jobs")).
		WithArgs("j1", "settlement", "7", []byte(`{"round_id":"7"}`), "delayed", 3, int64(1000), now, "req-7").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, store.Insert(context.Background(), job))
	assert.Equal(t, now, job.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := queue.NewPostgresStore(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM scheduled_jobs WHERE id = $1")).
			WithArgs("j1").
			WillReturnRows(jobRow(sqlmock.NewRows(jobCols), "j1", "delayed", 0, now))

		job, err := store.Get(context.Background(), "j1")
		require.NoError(t, err)
		assert.Equal(t, queue.StatusDelayed, job.Status)
		assert.JSONEq(t, `{"round_id":"7"}`, string(job.Payload))
		assert.Empty(t, job.LastError)
		assert.Equal(t, "req-7", job.CorrelationID)
	})

	t.Run("Missing", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM scheduled_jobs WHERE id = $1")).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := store.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
	})
}

func TestPostgresStore_ListByKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := queue.NewPostgresStore(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("AND status = ANY($3)")).
		WithArgs("settlement", "7", sqlmock.AnyArg()).
		WillReturnRows(jobRow(sqlmock.NewRows(jobCols), "j1", "delayed", 0, now))

	jobs, err := store.ListByKey(context.Background(), "settlement", "7", []queue.Status{queue.StatusDelayed, queue.StatusWaiting})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "7", jobs[0].Key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PromoteDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := queue.NewPostgresStore(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(jobCols)
	jobRow(rows, "j1", "waiting", 0, now)
	jobRow(rows, "j2", "waiting", 1, now)
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(now, 50).
		WillReturnRows(rows)

	jobs, err := store.PromoteDue(context.Background(), now, 50)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Equal(t, queue.StatusWaiting, jobs[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Acquire(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := queue.NewPostgresStore(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Acquired", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SET status = 'active', attempt = attempt + 1")).
			WithArgs("j1", now).
			WillReturnRows(jobRow(sqlmock.NewRows(jobCols), "j1", "active", 1, now))

		job, err := store.Acquire(context.Background(), "j1", now)
		require.NoError(t, err)
		assert.Equal(t, 1, job.Attempt)
	})

	t.Run("Already taken", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SET status = 'active'")).
			WithArgs("j1", now).
			WillReturnRows(sqlmock.NewRows(jobCols))

		_, err := store.Acquire(context.Background(), "j1", now)
		assert.ErrorIs(t, err, queue.ErrNotAcquired)
	})
}

func TestPostgresStore_Transitions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := queue.NewPostgresStore(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("Complete", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("SET status = 'completed'")).
			WithArgs("j1", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, store.Complete(ctx, "j1", now))
	})

	t.Run("Reschedule", func(t *testing.T) {
		at := now.Add(2 * time.Second)
		mock.ExpectExec(regexp.QuoteMeta("SET status = 'delayed', scheduled_at = $2")).
			WithArgs("j1", at, "boom", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, store.Reschedule(ctx, "j1", at, "boom", now))
	})

	t.Run("Fail on stale row", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("SET status = 'failed'")).
			WithArgs("j1", "boom", now).
			WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, store.Fail(ctx, "j1", "boom", now), queue.ErrJobNotFound)
	})

	t.Run("Revive", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("attempt = 0")).
			WithArgs("j1", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, store.Revive(ctx, "j1", now))
	})

	t.Run("ResetStuck", func(t *testing.T) {
		cutoff := now.Add(-10 * time.Minute)
		mock.ExpectExec(regexp.QuoteMeta("WHERE status IN ('waiting', 'active') AND updated_at < $1")).
			WithArgs(cutoff, now).
			WillReturnResult(sqlmock.NewResult(0, 2))
		n, err := store.ResetStuck(ctx, cutoff, now)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := queue.NewPostgresStore(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM scheduled_jobs GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("completed", 4).
			AddRow("failed", 1))

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, counts[queue.StatusCompleted])
	assert.Equal(t, 1, counts[queue.StatusFailed])
	assert.Equal(t, 0, counts[queue.StatusDelayed])
}
