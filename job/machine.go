package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Machine drives jobs through the transition table. Every event re-reads the
// record and writes with a compare-and-set on the state it read, so a
// duplicate or late delivery surfaces as ErrStale instead of a second write.
type Machine struct {
	store Store
	now   func() time.Time
}

func NewMachine(store Store) *Machine {
	return &Machine{store: store, now: time.Now}
}

// Create validates a new job against its kind and persists it.
func (m *Machine) Create(ctx context.Context, j *Job) error {
	if j.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvariant)
	}
	if strings.TrimSpace(j.Prompt) == "" {
		return fmt.Errorf("%w: empty prompt", ErrInvariant)
	}
	switch j.Kind {
	case KindUpload:
		if j.State != StatePending || j.SourceRef == "" {
			return fmt.Errorf("%w: upload jobs start in %s with a source ref", ErrInvariant, StatePending)
		}
	case KindURL:
		if j.State != StatePendingURL || j.SourceURL == "" || j.SourceRef != "" {
			return fmt.Errorf("%w: url jobs start in %s with a source url", ErrInvariant, StatePendingURL)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvariant, j.Kind)
	}
	if j.ResultRef != "" || j.ErrorInfo != "" {
		return fmt.Errorf("%w: new job carries a result or error", ErrInvariant)
	}

	now := m.now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	return m.store.Create(ctx, j)
}

// Get returns a snapshot of the job or ErrNotFound.
func (m *Machine) Get(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

// Fire applies ev to the job. It returns ErrStale (wrapped) when the job is
// missing, when ev is not legal from the stored state, or when another
// delivery moved the job between the read and the write.
func (m *Machine) Fire(ctx context.Context, id string, ev Event, c Changes) (*Job, error) {
	cur, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s for missing job %s", ErrStale, ev, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}

	to, err := Next(cur.State, ev)
	if err != nil {
		return cur, fmt.Errorf("%w: %v", ErrStale, err)
	}
	if err := checkChanges(cur, to, c); err != nil {
		return cur, err
	}

	updated, err := m.store.Transition(ctx, id, cur.State, to, c)
	if errors.Is(err, ErrStateMismatch) || errors.Is(err, ErrNotFound) {
		return cur, fmt.Errorf("%w: %s lost race on job %s: %v", ErrStale, ev, id, err)
	}
	if err != nil {
		return cur, fmt.Errorf("transition job %s %s->%s: %w", id, cur.State, to, err)
	}
	return updated, nil
}

// checkChanges keeps result_ref iff DONE, error_info iff FAILED and
// source_ref present from PENDING onwards.
func checkChanges(cur *Job, to State, c Changes) error {
	switch to {
	case StateDone:
		if c.ResultRef == "" {
			return fmt.Errorf("%w: %s requires a result ref", ErrInvariant, to)
		}
	case StateFailed:
		if c.ErrorInfo == "" {
			return fmt.Errorf("%w: %s requires error info", ErrInvariant, to)
		}
	case StatePending:
		if c.SourceRef == "" && cur.SourceRef == "" {
			return fmt.Errorf("%w: %s requires a source ref", ErrInvariant, to)
		}
	case StateProcessing:
		if cur.SourceRef == "" {
			return fmt.Errorf("%w: %s requires a source ref", ErrInvariant, to)
		}
	}
	if to != StateDone && (c.ResultRef != "" || c.Segments != nil) {
		return fmt.Errorf("%w: result written outside %s", ErrInvariant, StateDone)
	}
	if to != StateFailed && c.ErrorInfo != "" {
		return fmt.Errorf("%w: error info written outside %s", ErrInvariant, StateFailed)
	}
	if c.SourceRef != "" && cur.SourceRef != "" && c.SourceRef != cur.SourceRef {
		return fmt.Errorf("%w: source ref is write-once", ErrInvariant)
	}
	return nil
}
