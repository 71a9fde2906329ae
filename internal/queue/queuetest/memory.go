// Package queuetest provides in-memory queue collaborators for tests.
package queuetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rafflekeeper/apps/backend/internal/queue"
)

// MemStore is an in-memory queue.Store with the same transition rules as
// the Postgres store.
type MemStore struct {
	mu   sync.Mutex
	jobs map[string]*queue.Job
}

func NewMemStore() *MemStore {
	return &MemStore{jobs: map[string]*queue.Job{}}
}

func (s *MemStore) Insert(ctx context.Context, j *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	cp.CreatedAt = j.ScheduledAt
	cp.UpdatedAt = j.ScheduledAt
	s.jobs[j.ID] = &cp
	return nil
}

func (s *MemStore) Get(ctx context.Context, id string) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemStore) ListByKey(ctx context.Context, name, key string, statuses []queue.Status) ([]queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []queue.Job
	for _, j := range s.jobs {
		if j.Queue == name && j.Key == key && hasStatus(statuses, j.Status) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *MemStore) ListByStatus(ctx context.Context, name string, status queue.Status) ([]queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []queue.Job
	for _, j := range s.jobs {
		if j.Queue == name && j.Status == status {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *MemStore) PromoteDue(ctx context.Context, now time.Time, limit int) ([]queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*queue.Job
	for _, j := range s.jobs {
		if j.Status == queue.StatusDelayed && !j.ScheduledAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].ScheduledAt.Before(due[b].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]queue.Job, 0, len(due))
	for _, j := range due {
		j.Status = queue.StatusWaiting
		j.UpdatedAt = now
		out = append(out, *j)
	}
	return out, nil
}

func (s *MemStore) Demote(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.Status == queue.StatusWaiting {
		j.Status = queue.StatusDelayed
		j.UpdatedAt = now
	}
	return nil
}

func (s *MemStore) Acquire(ctx context.Context, id string, now time.Time) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != queue.StatusWaiting {
		return nil, queue.ErrNotAcquired
	}
	j.Status = queue.StatusActive
	j.Attempt++
	j.UpdatedAt = now
	cp := *j
	return &cp, nil
}

func (s *MemStore) transition(id string, from, to queue.Status, now time.Time, mutate func(*queue.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != from {
		return fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
	}
	j.Status = to
	j.UpdatedAt = now
	if mutate != nil {
		mutate(j)
	}
	return nil
}

func (s *MemStore) Complete(ctx context.Context, id string, now time.Time) error {
	return s.transition(id, queue.StatusActive, queue.StatusCompleted, now, nil)
}

func (s *MemStore) Reschedule(ctx context.Context, id string, at time.Time, lastErr string, now time.Time) error {
	return s.transition(id, queue.StatusActive, queue.StatusDelayed, now, func(j *queue.Job) {
		j.ScheduledAt = at
		j.LastError = lastErr
	})
}

func (s *MemStore) Fail(ctx context.Context, id string, lastErr string, now time.Time) error {
	return s.transition(id, queue.StatusActive, queue.StatusFailed, now, func(j *queue.Job) { j.LastError = lastErr })
}

func (s *MemStore) ResetStuck(ctx context.Context, cutoff, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if (j.Status == queue.StatusWaiting || j.Status == queue.StatusActive) && j.UpdatedAt.Before(cutoff) {
			if j.Status == queue.StatusActive && j.Attempt >= j.MaxAttempts {
				j.Status = queue.StatusFailed
			} else {
				j.Status = queue.StatusDelayed
			}
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *MemStore) Revive(ctx context.Context, id string, now time.Time) error {
	return s.transition(id, queue.StatusFailed, queue.StatusDelayed, now, func(j *queue.Job) {
		j.Attempt = 0
		j.ScheduledAt = now
	})
}

func (s *MemStore) CountByStatus(ctx context.Context) (map[queue.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[queue.Status]int{}
	for _, j := range s.jobs {
		out[j.Status]++
	}
	return out, nil
}

func hasStatus(statuses []queue.Status, s queue.Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Publisher records published bodies. Err, when set, fails every publish.
type Publisher struct {
	mu     sync.Mutex
	bodies [][]byte
	Err    error
}

func (p *Publisher) Publish(topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

// Drain returns and forgets everything published so far.
func (p *Publisher) Drain() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.bodies
	p.bodies = nil
	return out
}

var _ queue.Store = (*MemStore)(nil)
