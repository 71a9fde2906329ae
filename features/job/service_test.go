package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rafflekeeper/apps/backend/internal/queue"
	"rafflekeeper/apps/backend/internal/queue/queuetest"
)

func TestService_RetryRevivesDeadLetter(t *testing.T) {
	ctx := context.Background()
	store := queuetest.NewMemStore()
	clock := queuetest.NewClock()
	q := queue.New(store, "settlement", queue.EnqueueOptions{MaxAttempts: 1, Backoff: queue.Backoff{Base: time.Second}}, queue.WithClock(clock.Now))
	svc := NewService(q)

	j, err := q.Enqueue(ctx, "7", map[string]string{"round_id": "7"}, 0, queue.EnqueueOptions{})
	require.NoError(t, err)

	// Not failed yet.
	assert.ErrorIs(t, svc.Retry(ctx, j.ID), ErrNotFailed)

	_, err = store.PromoteDue(ctx, clock.Now(), 10)
	require.NoError(t, err)
	_, err = store.Acquire(ctx, j.ID, clock.Now())
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, j.ID, "reverted", clock.Now()))

	count, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, svc.Retry(ctx, j.ID))

	count, err = svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	pending, err := svc.Pending(ctx, "7")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].Attempt)
}

func TestService_RetryUnknownJob(t *testing.T) {
	q := queue.New(queuetest.NewMemStore(), "settlement", queue.EnqueueOptions{MaxAttempts: 1})
	err := NewService(q).Retry(context.Background(), "missing")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}
