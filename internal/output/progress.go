package output

import (
	"fmt"
	"io"
	"sort"

	"github.com/torosent/loadforge/internal/metricmodel"
)

// ProgressReporter prints a single-line progress update for each snapshot
// the aggregator emits, overwriting the previous line.
type ProgressReporter struct {
	writer io.Writer
}

// NewProgressReporter creates a progress reporter writing to w.
func NewProgressReporter(w io.Writer) *ProgressReporter {
	if w == nil {
		w = io.Discard
	}
	return &ProgressReporter{writer: w}
}

// Report renders one snapshot as a progress line.
func (p *ProgressReporter) Report(snap metricmodel.MetricSnapshot) {
	line := fmt.Sprintf(
		"\rt=%.0fs users=%d/%d requests=%d rps=%.1f errors=%.1f%% p99=%.1fms",
		snap.ElapsedSeconds, snap.ActiveUsers, snap.TargetConcurrency,
		snap.TotalRequests, snap.RequestsPerSecond, snap.ErrorRate*100, snap.P99Ms,
	)
	if name, ep, ok := topEndpointSnapshot(snap); ok {
		line += fmt.Sprintf(" | top: %s (%d req, p99 %.1fms)", name, ep.Requests, ep.P99Ms)
	}
	fmt.Fprint(p.writer, line)
}

func topEndpointSnapshot(snap metricmodel.MetricSnapshot) (string, metricmodel.EndpointSnapshot, bool) {
	if len(snap.Endpoints) == 0 {
		return "", metricmodel.EndpointSnapshot{}, false
	}
	names := make([]string, 0, len(snap.Endpoints))
	for name := range snap.Endpoints {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return snap.Endpoints[names[i]].Requests > snap.Endpoints[names[j]].Requests
	})
	name := names[0]
	return name, snap.Endpoints[name], true
}
