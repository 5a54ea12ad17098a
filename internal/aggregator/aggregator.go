// Package aggregator drains every worker's ring buffer once per second,
// folds the results into tick-local and cumulative HDR histograms, resolves
// endpoint labels, and emits a MetricSnapshot to the coordinator's
// snapshot callback. Tick-local state is reset after every snapshot; the
// cumulative state survives the whole run and backs the final summary only.
package aggregator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/torosent/loadforge/internal/hdr"
	"github.com/torosent/loadforge/internal/metricmodel"
	"github.com/torosent/loadforge/internal/shm"
)

// WorkerSource is one worker's drainable ring buffer plus its identity.
type WorkerSource struct {
	WorkerID uint8
	Ring     *shm.RingConsumer
}

// SnapshotFunc receives one aggregator tick's result.
type SnapshotFunc func(metricmodel.MetricSnapshot)

// Aggregator owns both the tick-local state (reset every tick, backs the
// per-tick MetricSnapshot) and the cumulative state (accumulated across the
// whole run, backs FinalSnapshot only) for one run.
type Aggregator struct {
	labels   *shm.LabelConsumer
	onSnap   SnapshotFunc
	start    time.Time
	interval time.Duration

	mu      sync.Mutex
	sources []*WorkerSource
	names   map[uint64]string

	tickHist           *hdr.Histogram
	tickEndpoints      map[uint64]*endpointState
	tickRequests       int64
	tickErrors         int64
	tickErrorsByStatus map[uint16]int64
	tickErrorsByCat    map[metricmodel.ErrorCategory]int64

	cumulative      *hdr.Histogram
	cumEndpoints    map[uint64]*endpointState
	totalRequests   int64
	totalErrors     int64
	cumErrorsByStat map[uint16]int64
	cumErrorsByCat  map[metricmodel.ErrorCategory]int64

	labelCollisions int64
}

type endpointState struct {
	name     string
	hist     *hdr.Histogram
	requests int64
	errors   int64
}

// New creates an Aggregator. Interval is the tick period (1s by default);
// start is the run's wall-clock start time, used to compute ElapsedSeconds
// in each snapshot.
func New(labels *shm.LabelConsumer, start time.Time, interval time.Duration, onSnap SnapshotFunc) *Aggregator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Aggregator{
		labels:   labels,
		onSnap:   onSnap,
		start:    start,
		interval: interval,
		names:    make(map[uint64]string),

		tickHist:           hdr.New(),
		tickEndpoints:      make(map[uint64]*endpointState),
		tickErrorsByStatus: make(map[uint16]int64),
		tickErrorsByCat:    make(map[metricmodel.ErrorCategory]int64),

		cumulative:      hdr.New(),
		cumEndpoints:    make(map[uint64]*endpointState),
		cumErrorsByStat: make(map[uint16]int64),
		cumErrorsByCat:  make(map[metricmodel.ErrorCategory]int64),
	}
}

// AddSource registers a worker's ring buffer for draining. Safe to call
// while the aggregator is running; the coordinator adds sources as workers
// come online during scale-up or a worker restart.
func (a *Aggregator) AddSource(s *WorkerSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources = append(a.sources, s)
}

// RemoveSource stops draining a worker's ring buffer, used when the
// coordinator restarts a failed worker and replaces its source with a fresh
// one attached to the new process's ring buffer.
func (a *Aggregator) RemoveSource(workerID uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, s := range a.sources {
		if s.WorkerID == workerID {
			a.sources = append(a.sources[:i], a.sources[i+1:]...)
			return
		}
	}
}

// Tick drains every source once, folds the results into the tick-local
// state, builds a MetricSnapshot entirely from that tick-local state, merges
// it into the cumulative state for the eventual FinalSnapshot, then resets
// the tick-local state for the next call. A source whose heartbeat is more
// than 5s old is listed in Diagnostics.FailedWorkerIDs; its records are
// still drained and the rest of the tick proceeds.
func (a *Aggregator) Tick(targetConcurrency, activeUsers int) metricmodel.MetricSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	var dropped int64
	var failedWorkers []uint8

	if a.labels != nil {
		for _, l := range a.labels.Drain() {
			a.registerLabel(l)
		}
	}

	for _, src := range a.sources {
		if time.Since(timeFromMonotonicSeconds(src.Ring.Heartbeat())) > 5*time.Second {
			failedWorkers = append(failedWorkers, src.WorkerID)
		}
		records := src.Ring.Drain()
		dropped += src.Ring.DroppedRecords()
		for _, rec := range records {
			a.foldRecord(rec)
		}
	}

	elapsed := time.Since(a.start)
	snap := metricmodel.MetricSnapshot{
		WallTime:          time.Now(),
		ElapsedSeconds:    elapsed.Seconds(),
		TargetConcurrency: targetConcurrency,
		ActiveUsers:       activeUsers,
		TotalRequests:     a.totalRequests + a.tickRequests,
		RequestsThisTick:  a.tickRequests,
		RequestsPerSecond: float64(a.tickRequests) / a.interval.Seconds(),

		P50Ms:  a.tickHist.GetPercentile(50),
		P75Ms:  a.tickHist.GetPercentile(75),
		P90Ms:  a.tickHist.GetPercentile(90),
		P95Ms:  a.tickHist.GetPercentile(95),
		P99Ms:  a.tickHist.GetPercentile(99),
		P999Ms: a.tickHist.GetPercentile(99.9),

		LatencyMinMs: a.tickHist.Min(),
		LatencyMaxMs: a.tickHist.Max(),
		LatencyAvgMs: a.tickHist.Mean(),

		TotalErrors:      a.totalErrors + a.tickErrors,
		ErrorsThisTick:   a.tickErrors,
		ErrorsByStatus:   cloneStatusMap(a.tickErrorsByStatus),
		ErrorsByCategory: cloneCategoryMap(a.tickErrorsByCat),

		Endpoints: a.buildEndpointSnapshots(a.tickEndpoints, a.interval),

		Diagnostics: metricmodel.Diagnostics{
			DroppedRecords:  dropped,
			LabelCollisions: a.labelCollisions,
			FailedWorkerIDs: failedWorkers,
		},
	}
	if a.tickRequests > 0 {
		snap.ErrorRate = float64(a.tickErrors) / float64(a.tickRequests)
	}

	if a.onSnap != nil {
		a.onSnap(snap)
	}

	a.mergeTickIntoCumulative()
	a.resetTickState()

	return snap
}

// FinalSnapshot builds a MetricSnapshot from the cumulative state
// accumulated across the entire run, used once for TestResult.Final after
// the run loop exits. It does not touch or reset tick-local state.
func (a *Aggregator) FinalSnapshot(activeUsers int) metricmodel.MetricSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	elapsed := time.Since(a.start)
	snap := metricmodel.MetricSnapshot{
		WallTime:          time.Now(),
		ElapsedSeconds:    elapsed.Seconds(),
		ActiveUsers:       activeUsers,
		TotalRequests:     a.totalRequests,
		RequestsThisTick:  a.totalRequests,
		RequestsPerSecond: float64(a.totalRequests) / elapsed.Seconds(),

		P50Ms:  a.cumulative.GetPercentile(50),
		P75Ms:  a.cumulative.GetPercentile(75),
		P90Ms:  a.cumulative.GetPercentile(90),
		P95Ms:  a.cumulative.GetPercentile(95),
		P99Ms:  a.cumulative.GetPercentile(99),
		P999Ms: a.cumulative.GetPercentile(99.9),

		LatencyMinMs: a.cumulative.Min(),
		LatencyMaxMs: a.cumulative.Max(),
		LatencyAvgMs: a.cumulative.Mean(),

		TotalErrors:      a.totalErrors,
		ErrorsThisTick:   a.totalErrors,
		ErrorsByStatus:   cloneStatusMap(a.cumErrorsByStat),
		ErrorsByCategory: cloneCategoryMap(a.cumErrorsByCat),

		Endpoints: a.buildEndpointSnapshots(a.cumEndpoints, elapsed),

		Diagnostics: metricmodel.Diagnostics{
			LabelCollisions: a.labelCollisions,
		},
	}
	if a.totalRequests > 0 {
		snap.ErrorRate = float64(a.totalErrors) / float64(a.totalRequests)
	}
	return snap
}

// mergeTickIntoCumulative folds the current tick's histograms and counters
// into the run-long cumulative state. Must be called with a.mu held.
func (a *Aggregator) mergeTickIntoCumulative() {
	a.cumulative.Merge(a.tickHist)
	a.totalRequests += a.tickRequests
	a.totalErrors += a.tickErrors
	for status, n := range a.tickErrorsByStatus {
		a.cumErrorsByStat[status] += n
	}
	for cat, n := range a.tickErrorsByCat {
		a.cumErrorsByCat[cat] += n
	}
	for hash, st := range a.tickEndpoints {
		cst, ok := a.cumEndpoints[hash]
		if !ok {
			cst = &endpointState{name: st.name, hist: hdr.New()}
			a.cumEndpoints[hash] = cst
		}
		cst.hist.Merge(st.hist)
		cst.requests += st.requests
		cst.errors += st.errors
	}
}

// resetTickState clears every tick-local field so the next Tick call starts
// from zero. Must be called with a.mu held.
func (a *Aggregator) resetTickState() {
	a.tickHist.Reset()
	a.tickEndpoints = make(map[uint64]*endpointState)
	a.tickRequests = 0
	a.tickErrors = 0
	a.tickErrorsByStatus = make(map[uint16]int64)
	a.tickErrorsByCat = make(map[metricmodel.ErrorCategory]int64)
}

func (a *Aggregator) foldRecord(rec metricmodel.RequestMetric) {
	a.tickHist.RecordValue(float64(rec.LatencyMs))
	a.tickRequests++

	if rec.ErrorCategory != metricmodel.ErrorNone {
		a.tickErrors++
		a.tickErrorsByCat[rec.ErrorCategory]++
		if rec.StatusCode > 0 {
			a.tickErrorsByStatus[rec.StatusCode]++
		}
	}

	st, ok := a.tickEndpoints[rec.NameHash]
	if !ok {
		name, known := a.names[rec.NameHash]
		if !known {
			name = fmt.Sprintf("unknown:%016x", rec.NameHash)
		}
		st = &endpointState{name: name, hist: hdr.New()}
		a.tickEndpoints[rec.NameHash] = st
	}
	st.hist.RecordValue(float64(rec.LatencyMs))
	st.requests++
	if rec.ErrorCategory != metricmodel.ErrorNone {
		st.errors++
	}
}

// registerLabel resolves a hash to a human name, recording a collision
// counter rather than failing if two different names map to the same hash;
// the aggregator does not attempt to disambiguate them.
func (a *Aggregator) registerLabel(l metricmodel.EndpointLabel) {
	if existing, ok := a.names[l.Hash]; ok && existing != l.Name {
		a.labelCollisions++
	}
	a.names[l.Hash] = l.Name
}

// buildEndpointSnapshots renders src (either tick-local or cumulative
// per-endpoint state) into the public map keyed by endpoint name, dividing
// request counts by interval to get an RPS figure appropriate to whichever
// window src covers.
func (a *Aggregator) buildEndpointSnapshots(src map[uint64]*endpointState, interval time.Duration) map[string]metricmodel.EndpointSnapshot {
	out := make(map[string]metricmodel.EndpointSnapshot, len(src))
	seconds := interval.Seconds()
	for _, st := range src {
		var errRate float64
		if st.requests > 0 {
			errRate = float64(st.errors) / float64(st.requests)
		}
		var rps float64
		if seconds > 0 {
			rps = float64(st.requests) / seconds
		}
		out[st.name] = metricmodel.EndpointSnapshot{
			Requests:  st.requests,
			RPS:       rps,
			P50Ms:     st.hist.GetPercentile(50),
			P95Ms:     st.hist.GetPercentile(95),
			P99Ms:     st.hist.GetPercentile(99),
			Errors:    st.errors,
			ErrorRate: errRate,
		}
	}
	return out
}

func cloneStatusMap(m map[uint16]int64) map[uint16]int64 {
	out := make(map[uint16]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneCategoryMap(m map[metricmodel.ErrorCategory]int64) map[metricmodel.ErrorCategory]int64 {
	out := make(map[metricmodel.ErrorCategory]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func timeFromMonotonicSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9))
}

// sortedEndpointNames is a small helper consumers of Endpoints may use when
// rendering output in a stable order.
func sortedEndpointNames(m map[string]metricmodel.EndpointSnapshot) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
