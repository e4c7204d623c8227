package job

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrStateMismatch     = errors.New("job state changed concurrently")
	ErrIllegalTransition = errors.New("illegal job transition")
	ErrInvariant         = errors.New("job invariant violated")
	// ErrStale is returned by the machine when an event no longer applies
	// to the stored job. Callers treat it as a no-op.
	ErrStale = errors.New("stale job event")
)

// Store persists jobs. Transition must be an atomic compare-and-set on the
// state of a single record: it writes only if the stored state equals from.
type Store interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Transition(ctx context.Context, id string, from, to State, c Changes) (*Job, error)
}
