// Package hdr wraps github.com/HdrHistogram/hdrhistogram-go with a
// record/percentile/reset/merge vocabulary, including the empty-histogram
// NaN convention hdrhistogram-go doesn't give you for free.
package hdr

import (
	"math"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	lowestTrackableMicros  = 1
	highestTrackableMicros = 60_000_000 // 60s in microseconds
	significantDigits      = 3
)

// Histogram records latencies in milliseconds (float32/float64 at the
// caller) but stores them internally in microseconds, matching the
// precision hdrhistogram-go actually tracks integers at.
type Histogram struct {
	h     *hdrhistogram.Histogram
	count int64
}

// New creates a histogram spanning 1µs to 60s at 3 significant digits, the
// range used for every tick-local, cumulative, and per-endpoint histogram
// in the aggregator.
func New() *Histogram {
	return &Histogram{h: hdrhistogram.New(lowestTrackableMicros, highestTrackableMicros, significantDigits)}
}

// RecordValue records a latency in milliseconds, clamping to the trackable
// range rather than dropping out-of-range samples.
func (hi *Histogram) RecordValue(latencyMs float64) {
	if hi == nil || hi.h == nil {
		return
	}
	us := int64(latencyMs * 1000)
	if us < hi.h.LowestTrackableValue() {
		us = hi.h.LowestTrackableValue()
	}
	if us > hi.h.HighestTrackableValue() {
		us = hi.h.HighestTrackableValue()
	}
	_ = hi.h.RecordValue(us)
	hi.count++
}

// GetPercentile returns the p-th percentile (p in [0, 100]) in milliseconds,
// or NaN if the histogram is empty.
func (hi *Histogram) GetPercentile(p float64) float64 {
	if hi == nil || hi.h == nil || hi.count == 0 {
		return math.NaN()
	}
	return float64(hi.h.ValueAtQuantile(p)) / 1000.0
}

// Min, Max and Mean mirror GetPercentile's NaN-when-empty convention.
func (hi *Histogram) Min() float64 {
	if hi == nil || hi.count == 0 {
		return math.NaN()
	}
	return float64(hi.h.Min()) / 1000.0
}

func (hi *Histogram) Max() float64 {
	if hi == nil || hi.count == 0 {
		return math.NaN()
	}
	return float64(hi.h.Max()) / 1000.0
}

func (hi *Histogram) Mean() float64 {
	if hi == nil || hi.count == 0 {
		return math.NaN()
	}
	return hi.h.Mean() / 1000.0
}

// Count returns the number of recorded values.
func (hi *Histogram) Count() int64 {
	if hi == nil {
		return 0
	}
	return hi.count
}

// Reset clears all recorded values, used by the aggregator after every
// tick for its tick-local histogram.
func (hi *Histogram) Reset() {
	if hi == nil || hi.h == nil {
		return
	}
	hi.h.Reset()
	hi.count = 0
}

// Merge folds other's recorded values into hi, used to fold a tick-local
// histogram into the cumulative one without re-recording every sample.
func (hi *Histogram) Merge(other *Histogram) {
	if hi == nil || hi.h == nil || other == nil || other.h == nil {
		return
	}
	hi.h.Merge(other.h)
	hi.count += other.count
}
