package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestDisabledByDefault(t *testing.T) {
	l := New(0, 0)
	if !l.Disabled() {
		t.Fatal("expected limiter to be disabled with rate 0")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() on disabled limiter = %v, want nil", err)
	}
}

func TestSetRateEnables(t *testing.T) {
	l := New(0, 0)
	l.SetRate(100, 10)
	if l.Disabled() {
		t.Fatal("expected limiter to be enabled after SetRate with positive rate")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	l := New(1, 1)
	// Drain the single burst token.
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire() = %v", err)
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(cancelCtx); err == nil {
		t.Fatal("expected Acquire() to fail on a cancelled context once the bucket is empty")
	}
}

func TestSetRateDisablesAgain(t *testing.T) {
	l := New(100, 10)
	l.SetRate(-1, 0)
	if !l.Disabled() {
		t.Fatal("expected limiter to report disabled for a non-positive rate")
	}
}
