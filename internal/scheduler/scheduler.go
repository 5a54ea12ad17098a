// Package scheduler drives a pattern.Pattern forward in real time, emitting
// one tick per interval with the target concurrency for that instant. It
// turns a pure Pattern function into the live (elapsed, target) stream the
// coordinator pushes to workers.
package scheduler

import (
	"context"
	"time"

	"github.com/torosent/loadforge/internal/pattern"
)

// TickFunc receives one scheduler tick: the scheduled elapsed time since the
// run started, and the target concurrency the pattern prescribes for it.
type TickFunc func(elapsed time.Duration, target int)

// MissedFunc is invoked when a tick's wall-clock deadline has already
// passed by more than 2x the tick interval. The scheduler warns rather
// than firing a catch-up burst of missed ticks.
type MissedFunc func(elapsed time.Duration, overBy time.Duration)

// Scheduler emits scheduled ticks for a Pattern at a fixed interval.
type Scheduler struct {
	Pattern  pattern.Pattern
	Tick     time.Duration
	OnTick   TickFunc
	OnMissed MissedFunc
}

// New builds a Scheduler for the given pattern and tick interval.
func New(p pattern.Pattern, tick time.Duration, onTick TickFunc) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{Pattern: p, Tick: tick, OnTick: onTick}
}

// Run drives the scheduler until ctx is canceled, sleeping to absolute
// deadlines (start + n*tick) rather than accumulating drift from
// successive relative sleeps. If OnTick falls badly behind wall-clock time
// (more than 2 ticks late), Run skips n forward to the tick matching the
// current instant and fires OnTick once for it, rather than replaying every
// skipped tick in a burst.
func (s *Scheduler) Run(ctx context.Context) error {
	start := time.Now()
	var n int64
	for {
		elapsed := time.Duration(n) * s.Tick
		if s.OnTick != nil {
			s.OnTick(elapsed, s.Pattern.TargetAt(elapsed))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n++
		deadline := start.Add(time.Duration(n) * s.Tick)
		wait := time.Until(deadline)
		if wait <= 0 {
			overBy := -wait
			if overBy > 2*s.Tick {
				if s.OnMissed != nil {
					s.OnMissed(elapsed, overBy)
				}
				n = int64(time.Since(start)/s.Tick) + 1
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
