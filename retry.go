package batch

import (
	"context"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"
	lg "github.com/Andrej220/go-utils/zlog"
)

const (
	defaultAttempts     = 3
	defaultInitialRetry = 200 * time.Millisecond
	defaultMaxRetry     = 5 * time.Second
)

// RetryPolicy describes how many times and how often one unit of work
// should be attempted. Zero values are treated as "use defaults".
type RetryPolicy struct {
	// Attempts is the maximum number of tries.
	Attempts int

	// Initial is the first backoff duration.
	Initial time.Duration

	// Max is the cap for backoff duration.
	Max time.Duration
}

// DefaultRetryPolicy returns the policy applied when a Runner is built
// with a zero RetryPolicy. Useful in tests.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: defaultAttempts,
		Initial:  defaultInitialRetry,
		Max:      defaultMaxRetry,
	}
}

// Retry runs fn up to pol.Attempts times, classifying each failure and
// sleeping an exponentially growing, jittered delay between transient
// failures. A permanent failure stops immediately. The attempt count is
// returned on every path so callers can tell "first try" from
// "succeeded after retries".
//
// When limiter is non-nil a token is acquired before every attempt, so
// retried calls count against the same external quota as fresh ones.
// The backoff sleep is pre-empted by ctx cancellation.
func Retry[R any](ctx context.Context, pol RetryPolicy, classify Classifier, limiter *Limiter, fn func(context.Context) (R, error)) (R, int, error) {
	var zero R
	if classify == nil {
		classify = DefaultClassifier
	}
	if pol.Attempts <= 0 {
		pol.Attempts = defaultAttempts
	}
	if pol.Initial <= 0 {
		pol.Initial = defaultInitialRetry
	}
	if pol.Max <= 0 {
		pol.Max = defaultMaxRetry
	}

	logger := lg.FromContext(ctx)
	bo := boff.New(pol.Initial, pol.Max, time.Now().UnixNano())

	for attempt := 1; ; attempt++ {
		if limiter != nil {
			if err := limiter.Acquire(ctx); err != nil {
				return zero, attempt, err
			}
		}
		out, err := fn(ctx)
		if err == nil {
			return out, attempt, nil
		}
		if classify(err) == Permanent {
			return zero, attempt, err
		}
		if attempt == pol.Attempts {
			return zero, attempt, err
		}
		delay := bo.Next()
		logger.Warn("attempt failed; backing off",
			lg.Int("attempt", attempt),
			lg.String("sleep", delay.String()),
			lg.Any("error", err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C // drain if timer already fired
			}
			return zero, attempt, ctx.Err()
		}
	}
}
