package scenario

import (
	"context"
	"math/rand"
	"testing"
)

func noop(ctx context.Context, c Client) error { return nil }

func TestNewSelectorDropsZeroWeightTasks(t *testing.T) {
	tasks := []Task{
		{Name: "a", Weight: 5, Run: noop},
		{Name: "b", Weight: 0, Run: noop},
		{Name: "c", Weight: 3, Run: noop},
	}
	sel, err := NewSelector(tasks)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	seen := map[string]bool{}
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		seen[sel.Select(r).Name] = true
	}
	if seen["b"] {
		t.Error("zero-weight task b was selected")
	}
	if !seen["a"] || !seen["c"] {
		t.Errorf("expected both a and c to be selected over enough draws: %v", seen)
	}
}

func TestNewSelectorErrorsWithNoPositiveWeights(t *testing.T) {
	_, err := NewSelector([]Task{{Name: "a", Weight: 0, Run: noop}})
	if err == nil {
		t.Fatal("expected error when no tasks have positive weight")
	}
}

func TestSelectDistributionRoughlyMatchesWeights(t *testing.T) {
	tasks := []Task{
		{Name: "heavy", Weight: 9, Run: noop},
		{Name: "light", Weight: 1, Run: noop},
	}
	sel, err := NewSelector(tasks)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	r := rand.New(rand.NewSource(42))
	counts := map[string]int{}
	const n = 10000
	for i := 0; i < n; i++ {
		counts[sel.Select(r).Name]++
	}
	ratio := float64(counts["heavy"]) / float64(n)
	if ratio < 0.85 || ratio > 0.95 {
		t.Errorf("heavy task ratio = %v, want ~0.9", ratio)
	}
}

func TestThinkTimeWithinRange(t *testing.T) {
	d := Descriptor{ThinkMin: 10_000_000, ThinkMax: 50_000_000} // nanoseconds via time.Duration literal
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		got := d.ThinkTime(r)
		if got < d.ThinkMin || got > d.ThinkMax {
			t.Fatalf("ThinkTime() = %v, want within [%v, %v]", got, d.ThinkMin, d.ThinkMax)
		}
	}
}

func TestThinkTimeDegenerateRange(t *testing.T) {
	d := Descriptor{ThinkMin: 5, ThinkMax: 5}
	r := rand.New(rand.NewSource(1))
	if got := d.ThinkTime(r); got != 5 {
		t.Errorf("ThinkTime() = %v, want 5", got)
	}
}
