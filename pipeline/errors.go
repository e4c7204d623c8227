package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidInput is returned by the intake operations for requests that can
// never succeed (empty prompt, unknown upload, bad URL).
var ErrInvalidInput = errors.New("invalid input")

// Reason is the stable tag a failure diagnostic starts with.
type Reason string

const (
	ReasonFetch      Reason = "fetch"
	ReasonStorage    Reason = "storage"
	ReasonModel      Reason = "model"
	ReasonMalformed  Reason = "malformed_response"
	ReasonNoSegments Reason = "no_segments"
	ReasonCodec      Reason = "codec"
	ReasonInternal   Reason = "internal"
)

// StageError is a stage failure that ends the job in FAILED.
type StageError struct {
	Reason Reason
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(ctx context.Context, reason Reason, err error) *StageError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w (stage timed out)", err)
	}
	return &StageError{Reason: reason, Err: err}
}

// asStageError keeps typed failures and tags anything else as internal.
func asStageError(ctx context.Context, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return stageErr(ctx, ReasonInternal, err)
}
