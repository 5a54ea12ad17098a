// Package ratelimit implements the per-worker token bucket, built on
// golang.org/x/time/rate the same way a uniform-arrival pacer wraps a
// rate.Limiter.
package ratelimit

import (
	"context"
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter admits one virtual-user request at a time, refilling tokens at a
// configurable rate. When rate == 0 the limiter is disabled and always
// admits.
type Limiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	ratePS  float64
}

// New creates a limiter with the given tokens/sec rate and max burst. A
// rate of 0 disables limiting entirely.
func New(ratePerSecond float64, burst int) *Limiter {
	l := &Limiter{}
	l.SetRate(ratePerSecond, burst)
	return l
}

// SetRate reconfigures the limiter's rate and burst. Used by New and by
// Worker.SetRate.
func (l *Limiter) SetRate(ratePerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ratePS = ratePerSecond
	if ratePerSecond <= 0 {
		l.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	if burst < 1 {
		burst = int(math.Ceil(ratePerSecond))
		if burst < 1 {
			burst = 1
		}
	}
	l.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
}

// Disabled reports whether the limiter currently admits unconditionally.
func (l *Limiter) Disabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ratePS <= 0
}

// Acquire blocks the calling virtual user until a token is available or ctx
// is cancelled. If the bucket is empty the caller suspends until the next
// refill without consuming its slot early.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	lim := l.limiter
	l.mu.Unlock()
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}
