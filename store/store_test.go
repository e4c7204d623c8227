package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptcut/job"
	"promptcut/segment"
)

func newJob(id string) *job.Job {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &job.Job{
		ID:        id,
		Kind:      job.KindUpload,
		State:     job.StatePending,
		Prompt:    "a bird",
		SourceRef: "uploads/" + id + ".mp4",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func stores(t *testing.T) map[string]job.Store {
	g, err := OpenGorm(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return map[string]job.Store{
		"memory": NewMemory(),
		"gorm":   g,
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range stores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, job.ErrNotFound)

			require.NoError(t, s.Create(ctx, newJob("j1")))
			assert.Error(t, s.Create(ctx, newJob("j1")), "duplicate id must be rejected")

			got, err := s.Get(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, job.StatePending, got.State)
			assert.Equal(t, "uploads/j1.mp4", got.SourceRef)

			updated, err := s.Transition(ctx, "j1", job.StatePending, job.StateProcessing, job.Changes{})
			require.NoError(t, err)
			assert.Equal(t, job.StateProcessing, updated.State)

			_, err = s.Transition(ctx, "j1", job.StatePending, job.StateProcessing, job.Changes{})
			assert.ErrorIs(t, err, job.ErrStateMismatch)

			_, err = s.Transition(ctx, "nope", job.StatePending, job.StateProcessing, job.Changes{})
			assert.ErrorIs(t, err, job.ErrNotFound)

			cuts := []segment.TimeRange{{Start: 4.5, End: 8}}
			done, err := s.Transition(ctx, "j1", job.StateProcessing, job.StateDone, job.Changes{
				ResultRef: "http://files/edits/j1.mp4",
				Segments:  cuts,
			})
			require.NoError(t, err)
			assert.Equal(t, job.StateDone, done.State)
			assert.Equal(t, "http://files/edits/j1.mp4", done.ResultRef)
			assert.Equal(t, cuts, done.Segments)
			assert.Empty(t, done.ErrorInfo)

			reread, err := s.Get(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, cuts, reread.Segments)
			assert.Equal(t, "uploads/j1.mp4", reread.SourceRef)
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	j := newJob("j1")
	require.NoError(t, s.Create(ctx, j))

	j.State = job.StateFailed
	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatePending, got.State)

	got.Prompt = "mutated"
	again, _ := s.Get(ctx, "j1")
	assert.Equal(t, "a bird", again.Prompt)
	assert.Equal(t, 1, s.Len())
}

func TestTransitionIsCompareAndSet(t *testing.T) {
	for name, s := range stores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, newJob("race")))

			const workers = 8
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				won     int
				lost    int
				unknown []error
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Transition(ctx, "race", job.StatePending, job.StateProcessing, job.Changes{})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						won++
					case errors.Is(err, job.ErrStateMismatch):
						lost++
					default:
						unknown = append(unknown, err)
					}
				}()
			}
			wg.Wait()

			assert.Empty(t, unknown)
			assert.Equal(t, 1, won)
			assert.Equal(t, workers-1, lost)
		})
	}
}
