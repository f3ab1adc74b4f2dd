package batch

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// Limiter is a token-bucket throttle shared by every caller drawing on
// one external-service quota. The bucket refills continuously at the
// configured rate and holds at most one second's worth of tokens.
//
// A single Limiter instance is safe for concurrent use; a Runner with
// Options.RateLimit set shares one Limiter across all its workers.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter builds a limiter allowing perSec calls per second.
// perSec <= 0 returns nil, which every call site treats as unlimited.
func NewLimiter(perSec float64) *Limiter {
	if perSec <= 0 {
		return nil
	}
	burst := int(math.Ceil(perSec))
	if burst < 1 {
		burst = 1
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(perSec), burst)}
}

// Acquire consumes one token, suspending the caller until a token is
// available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.lim.Wait(ctx)
}

// Allow consumes a token only if one is immediately available.
func (l *Limiter) Allow() bool {
	return l.lim.Allow()
}
