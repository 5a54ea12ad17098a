package worker

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/loadforge/internal/scenario"
	"github.com/torosent/loadforge/internal/shm"
)

func countingTask(counter *int64) scenario.TaskFunc {
	return func(ctx context.Context, c scenario.Client) error {
		atomic.AddInt64(counter, 1)
		return nil
	}
}

func newTestWorker(t *testing.T, target int) (*Worker, *shm.RingConsumer) {
	t.Helper()
	dir := t.TempDir()

	ring, err := shm.CreateRingBuffer(filepath.Join(dir, "ring.shm"), 0)
	if err != nil {
		t.Fatalf("CreateRingBuffer: %v", err)
	}
	t.Cleanup(func() { ring.Close() })
	consumer, err := shm.AttachRingConsumer(filepath.Join(dir, "ring.shm"))
	if err != nil {
		t.Fatalf("AttachRingConsumer: %v", err)
	}
	t.Cleanup(func() { consumer.Close() })

	cb, err := shm.CreateCommandBlock(filepath.Join(dir, "cmd.shm"))
	if err != nil {
		t.Fatalf("CreateCommandBlock: %v", err)
	}
	t.Cleanup(func() { cb.Close() })
	cb.SetTarget(uint32(target))

	var counter int64
	w, err := New(Config{
		WorkerID: 0,
		Descriptor: scenario.Descriptor{
			Tasks:    []scenario.Task{{Name: "t", Weight: 1, Run: countingTask(&counter)}},
			ThinkMin: time.Millisecond,
			ThinkMax: time.Millisecond,
		},
		Ring:     ring,
		Commands: cb,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w, consumer
}

func TestWorkerRunRampsUpAndStops(t *testing.T) {
	w, _ := newTestWorker(t, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	w.mu.Lock()
	usersAfterRamp := len(w.users)
	w.mu.Unlock()
	if usersAfterRamp != 3 {
		t.Errorf("live users after ramp = %d, want 3", usersAfterRamp)
	}

	<-done
}

func TestScaleToStartsAndCancelsVirtualUsers(t *testing.T) {
	w, _ := newTestWorker(t, 0)

	w.scaleTo(4)
	w.mu.Lock()
	if len(w.users) != 4 {
		w.mu.Unlock()
		t.Fatalf("users = %d, want 4", len(w.users))
	}
	w.mu.Unlock()

	w.scaleTo(1)
	w.mu.Lock()
	remaining := len(w.users)
	w.mu.Unlock()
	if remaining != 1 {
		t.Errorf("users after scale down = %d, want 1", remaining)
	}
}

func TestSetRateUpdatesLimiter(t *testing.T) {
	w, _ := newTestWorker(t, 0)
	if w.limiter.Disabled() != true {
		t.Fatal("expected limiter to start disabled with RatePerSec 0")
	}
	w.SetRate(50)
	if w.limiter.Disabled() {
		t.Error("expected limiter to be enabled after SetRate")
	}
}

func TestNewRejectsDescriptorWithNoPositiveWeightTasks(t *testing.T) {
	dir := t.TempDir()
	ring, err := shm.CreateRingBuffer(filepath.Join(dir, "ring.shm"), 0)
	if err != nil {
		t.Fatalf("CreateRingBuffer: %v", err)
	}
	defer ring.Close()
	cb, err := shm.CreateCommandBlock(filepath.Join(dir, "cmd.shm"))
	if err != nil {
		t.Fatalf("CreateCommandBlock: %v", err)
	}
	defer cb.Close()

	_, err = New(Config{
		Descriptor: scenario.Descriptor{Tasks: []scenario.Task{{Name: "t", Weight: 0, Run: func(context.Context, scenario.Client) error { return nil }}}},
		Ring:       ring,
		Commands:   cb,
	})
	if err == nil {
		t.Fatal("expected New() to fail with no positive-weight tasks")
	}
}
