package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rafflekeeper/apps/backend/internal/queue"
	"rafflekeeper/apps/backend/internal/testutils"
)

func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	store := queue.NewPostgresStore(s.DB)
	now := time.Now().UTC().Truncate(time.Millisecond)
	q := queue.New(store, "settlement", queue.EnqueueOptions{MaxAttempts: 2, Backoff: queue.Backoff{Base: time.Second}},
		queue.WithClock(func() time.Time { return now }))

	// 1. Enqueue and list as pending
	job, err := q.Enqueue(ctx, "7", map[string]string{"round_id": "7"}, 0, queue.EnqueueOptions{})
	require.NoError(t, err)

	pending, err := q.ListPending(ctx, "7")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, job.ID, pending[0].ID)

	// 2. Concurrent promoters hand out each job once
	var mu sync.Mutex
	var promoted []queue.Job
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := store.PromoteDue(ctx, now, 10)
			assert.NoError(t, err)
			mu.Lock()
			promoted = append(promoted, jobs...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, promoted, 1)

	// 3. Only one acquire wins
	acquired, err := store.Acquire(ctx, job.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, acquired.Attempt)
	_, err = store.Acquire(ctx, job.ID, now)
	assert.ErrorIs(t, err, queue.ErrNotAcquired)

	// 4. Retry path then dead-letter
	require.NoError(t, store.Reschedule(ctx, job.ID, now.Add(time.Second), "boom", now))
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDelayed, got.Status)
	assert.Equal(t, "boom", got.LastError)

	jobs, err := store.PromoteDue(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	_, err = store.Acquire(ctx, job.ID, now)
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, job.ID, "boom again", now))

	dead, err := q.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	pending, err = q.ListPending(ctx, "7")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// 5. Revive
	require.NoError(t, q.Retry(ctx, job.ID))
	got, err = store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDelayed, got.Status)
	assert.Equal(t, 0, got.Attempt)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[queue.StatusDelayed])
}
