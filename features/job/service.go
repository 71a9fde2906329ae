package job

import (
	"context"
	"errors"
	"fmt"

	"rafflekeeper/apps/backend/internal/queue"
)

// ErrNotFailed means a retry was requested for a job that is not dead-lettered.
var ErrNotFailed = errors.New("job is not in failed state")

type Queue interface {
	Get(ctx context.Context, id string) (*queue.Job, error)
	ListPending(ctx context.Context, key string) ([]queue.Job, error)
	ListDeadLetters(ctx context.Context) ([]queue.Job, error)
	Retry(ctx context.Context, id string) error
}

type Service struct {
	queue Queue
}

func NewService(q Queue) *Service {
	return &Service{queue: q}
}

// List returns dead-lettered jobs.
func (s *Service) List(ctx context.Context) ([]queue.Job, error) {
	return s.queue.ListDeadLetters(ctx)
}

func (s *Service) Pending(ctx context.Context, key string) ([]queue.Job, error) {
	return s.queue.ListPending(ctx, key)
}

// Retry sends a dead-lettered job back to the queue with a fresh attempt budget.
func (s *Service) Retry(ctx context.Context, id string) error {
	// 1. Get Job
	j, err := s.queue.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != queue.StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, j.Status)
	}

	// 2. Revive
	return s.queue.Retry(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	jobs, err := s.queue.ListDeadLetters(ctx)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}
