// Package store holds the job.Store implementations.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"promptcut/job"
)

// Memory keeps jobs in a map. It is the default when no DSN is configured and
// backs most tests.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*job.Job)}
}

func (s *Memory) Create(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; exists {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *Memory) Get(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *Memory) Transition(ctx context.Context, id string, from, to job.State, c job.Changes) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	if j.State != from {
		return nil, fmt.Errorf("%w: want %s, have %s", job.ErrStateMismatch, from, j.State)
	}
	j.State = to
	c.Apply(j)
	j.UpdatedAt = time.Now().UTC()
	return j.Clone(), nil
}

// Len reports how many jobs are stored.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
