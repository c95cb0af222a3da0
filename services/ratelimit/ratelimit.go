// Package ratelimit throttles outbound calls to the external data providers.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum interval of 1/rate seconds between granted
// calls. Burst is fixed at 1 so concurrent callers are released one at a
// time in FIFO order. It is the only shared mutable state the collectors
// touch; everything else is per-session.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing callsPerSecond grants per second.
// A non-positive rate is a configuration error.
func New(callsPerSecond float64) (*Limiter, error) {
	if callsPerSecond <= 0 {
		return nil, fmt.Errorf("ratelimit: calls per second must be positive, got %v", callsPerSecond)
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(callsPerSecond), 1),
	}, nil
}

// Acquire blocks until at least 1/rate seconds have elapsed since the
// previous granted call, or until ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
