package batch

import (
	"context"
	"errors"
	"net"
	"syscall"
)

var (
	// ErrNilFunc is returned when Run is given a nil execution function.
	ErrNilFunc = errors.New("batch: exec func is nil")

	// ErrNoItems is returned when Run is given an empty item slice.
	ErrNoItems = errors.New("batch: no items")

	// ErrDuplicateID is returned when two items in one batch share an id.
	ErrDuplicateID = errors.New("batch: duplicate item id")

	// ErrUnknownBatch is returned by stores when a batch id does not exist.
	ErrUnknownBatch = errors.New("batch: unknown batch id")
)

// Class tells the retry loop whether a failed attempt is worth repeating.
type Class int

const (
	// Transient failures are expected to plausibly succeed on retry:
	// timeouts, connection resets, remote "retry later" signals.
	Transient Class = iota

	// Permanent failures will not succeed regardless of retry count.
	Permanent
)

// Classifier maps an execution error to a retry class.
type Classifier func(error) Class

type classedError struct {
	err   error
	class Class
}

func (e *classedError) Error() string { return e.err.Error() }
func (e *classedError) Unwrap() error { return e.err }

// AsTransient marks err so DefaultClassifier treats it as retryable.
// Execution functions use it to flag remote "too many requests" or
// server-side transient fault responses.
func AsTransient(err error) error {
	if err == nil {
		return nil
	}
	return &classedError{err: err, class: Transient}
}

// AsPermanent marks err so DefaultClassifier fails it immediately.
func AsPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &classedError{err: err, class: Permanent}
}

// DefaultClassifier implements the standard taxonomy: explicit marks
// win; deadline expiry, net timeouts, and connection-level faults are
// transient; everything else is permanent.
func DefaultClassifier(err error) Class {
	var ce *classedError
	if errors.As(err, &ce) {
		return ce.class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Transient
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return Transient
	}
	return Permanent
}
