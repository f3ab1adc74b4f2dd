package batch

import (
	"context"
)

// Item is a single unit of independent work inside a batch.
//
// ID must be unique within the batch. It is used for result ordering,
// checkpointing, and dedup when a batch is resumed.
type Item[T any] struct {
	ID      string
	Payload T
}

// ExecFunc performs the actual work for one payload, typically a remote
// call. It should honor ctx and may return errors pre-classified with
// AsTransient or AsPermanent.
type ExecFunc[T, R any] func(ctx context.Context, payload T) (R, error)

// Status is the terminal state of a processed item.
type Status int

const (
	// StatusOK means the execution function returned a value,
	// possibly after retries.
	StatusOK Status = iota

	// StatusFailed means the item failed permanently or exhausted
	// its retry attempts.
	StatusFailed

	// StatusCanceled means the item was never executed to completion
	// because the batch was canceled. Canceled items are not
	// checkpointed and re-surface as unprocessed on resume.
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is the outcome of one item. Exactly one Result exists per item
// id over the whole batch lifecycle (original run plus any resumes).
type Result[R any] struct {
	ID       string
	Status   Status
	Value    R
	Err      error
	Attempts int
}

// OK reports whether the item produced a value.
func (r Result[R]) OK() bool { return r.Status == StatusOK }

// Process runs items through a one-off Runner. It is the convenience
// entry point for callers that do not need Resume.
func Process[T, R any](ctx context.Context, items []Item[T], fn ExecFunc[T, R], opts Options) ([]Result[R], error) {
	return New[T, R](opts).Run(ctx, items, fn)
}
