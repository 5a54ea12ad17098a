package pattern

import (
	"testing"
	"time"
)

func TestConstantTargetAt(t *testing.T) {
	p := Constant(25)
	for _, elapsed := range []time.Duration{0, time.Second, time.Hour} {
		if got := p.TargetAt(elapsed); got != 25 {
			t.Errorf("TargetAt(%v) = %d, want 25", elapsed, got)
		}
	}
}

func TestRampTargetAt(t *testing.T) {
	p := Ramp(0, 100, 10*time.Second)
	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 0},
		{5 * time.Second, 50},
		{10 * time.Second, 100},
		{20 * time.Second, 100}, // holds after ramp ends
	}
	for _, c := range cases {
		if got := p.TargetAt(c.elapsed); got != c.want {
			t.Errorf("TargetAt(%v) = %d, want %d", c.elapsed, got, c.want)
		}
	}
}

func TestStepTargetAt(t *testing.T) {
	p := StepPattern(10, 5, 2*time.Second, 3)
	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 10},
		{1999 * time.Millisecond, 10},
		{2 * time.Second, 15},
		{4 * time.Second, 20},
		{6 * time.Second, 25},
		{100 * time.Second, 25}, // holds after last step
	}
	for _, c := range cases {
		if got := p.TargetAt(c.elapsed); got != c.want {
			t.Errorf("TargetAt(%v) = %d, want %d", c.elapsed, got, c.want)
		}
	}
}

func TestSpikeTargetAt(t *testing.T) {
	p := Spike(5, 50, 3*time.Second)
	if got := p.TargetAt(0); got != 50 {
		t.Errorf("TargetAt(0) = %d, want 50", got)
	}
	if got := p.TargetAt(2999 * time.Millisecond); got != 50 {
		t.Errorf("TargetAt(2.999s) = %d, want 50", got)
	}
	if got := p.TargetAt(3 * time.Second); got != 5 {
		t.Errorf("TargetAt(3s) = %d, want 5", got)
	}
}

func TestDiurnalTargetAt(t *testing.T) {
	p := Diurnal(10, 110, 24*time.Hour)
	if got := p.TargetAt(0); got != 10 {
		t.Errorf("TargetAt(0) = %d, want 10 (trough)", got)
	}
	if got := p.TargetAt(12 * time.Hour); got != 110 {
		t.Errorf("TargetAt(half period) = %d, want 110 (peak)", got)
	}
	if got := p.TargetAt(24 * time.Hour); got != 10 {
		t.Errorf("TargetAt(full period) = %d, want 10 (trough again)", got)
	}
}

func TestCompositeTargetAt(t *testing.T) {
	p := Composite(
		Segment{Pattern: Ramp(0, 50, 5*time.Second), Duration: 5 * time.Second},
		Segment{Pattern: Constant(50), Duration: 10 * time.Second},
		Segment{Pattern: Ramp(50, 0, 5*time.Second), Duration: 5 * time.Second},
	)
	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 0},
		{5 * time.Second, 50},
		{10 * time.Second, 50},
		{15 * time.Second, 50},
		{17500 * time.Millisecond, 25},
		{20 * time.Second, 0},
		{100 * time.Second, 0}, // holds final segment's end value
	}
	for _, c := range cases {
		if got := p.TargetAt(c.elapsed); got != c.want {
			t.Errorf("TargetAt(%v) = %d, want %d", c.elapsed, got, c.want)
		}
	}
}

func TestTargetAtNeverNegative(t *testing.T) {
	p := Ramp(10, -5, time.Second)
	if got := p.TargetAt(time.Second); got < 0 {
		t.Errorf("TargetAt returned negative: %d", got)
	}
}

func TestGenerateProducesExpectedPointCount(t *testing.T) {
	p := Constant(1)
	points := Generate(p, 10*time.Second, time.Second)
	if len(points) != 11 {
		t.Fatalf("len(points) = %d, want 11", len(points))
	}
	if points[0].Elapsed != 0 || points[len(points)-1].Elapsed != 10*time.Second {
		t.Errorf("points span = [%v, %v], want [0, 10s]", points[0].Elapsed, points[len(points)-1].Elapsed)
	}
}

func TestDescribeIsStable(t *testing.T) {
	p := Ramp(0, 10, time.Second)
	if d1, d2 := p.Describe(), p.Describe(); d1 != d2 {
		t.Errorf("Describe() not stable: %q != %q", d1, d2)
	}
}
