package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/torosent/loadforge/internal/metricmodel"
)

// PrintReport outputs a human-readable summary report for a finished run.
func PrintReport(w io.Writer, result metricmodel.TestResult) {
	final := result.Final
	fmt.Fprintln(w, "\n--- LoadForge Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", result.RunID)
	fmt.Fprintf(w, "Scenario:          %s\n", result.ScenarioName)
	fmt.Fprintf(w, "Pattern:           %s\n", result.PatternDesc)
	fmt.Fprintf(w, "Duration:          %s\n", result.Duration)
	if result.FailureReason != "" {
		fmt.Fprintf(w, "Aborted:           %s\n", result.FailureReason)
	}
	fmt.Fprintf(w, "Total Requests:    %d\n", final.TotalRequests)
	fmt.Fprintf(w, "Total Errors:      %d (%.2f%%)\n", final.TotalErrors, final.ErrorRate*100)
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", final.RequestsPerSecond)
	fmt.Fprintln(w, "\nLatency (ms):")
	fmt.Fprintf(w, "  Min:             %.2f\n", final.LatencyMinMs)
	fmt.Fprintf(w, "  Max:             %.2f\n", final.LatencyMaxMs)
	fmt.Fprintf(w, "  Mean:            %.2f\n", final.LatencyAvgMs)
	fmt.Fprintf(w, "  P50:             %.2f\n", final.P50Ms)
	fmt.Fprintf(w, "  P90:             %.2f\n", final.P90Ms)
	fmt.Fprintf(w, "  P95:             %.2f\n", final.P95Ms)
	fmt.Fprintf(w, "  P99:             %.2f\n", final.P99Ms)
	fmt.Fprintf(w, "  P99.9:           %.2f\n", final.P999Ms)

	if len(final.ErrorsByCategory) > 0 {
		fmt.Fprintln(w, "\nErrors by Category:")
		for _, cat := range sortedCategories(final.ErrorsByCategory) {
			fmt.Fprintf(w, "  %s: %d\n", cat, final.ErrorsByCategory[cat])
		}
	}

	if len(final.Endpoints) > 0 {
		fmt.Fprintln(w, "\nEndpoint Breakdown:")
		names := make([]string, 0, len(final.Endpoints))
		for name := range final.Endpoints {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			return final.Endpoints[names[i]].Requests > final.Endpoints[names[j]].Requests
		})
		for _, name := range names {
			ep := final.Endpoints[name]
			fmt.Fprintf(
				w,
				"  - %s: requests=%d, rps=%.2f, errors=%d (%.2f%%), p50=%.2f, p95=%.2f, p99=%.2f\n",
				name, ep.Requests, ep.RPS, ep.Errors, ep.ErrorRate*100, ep.P50Ms, ep.P95Ms, ep.P99Ms,
			)
		}
	}

	if len(result.WorkerFailures) > 0 {
		fmt.Fprintln(w, "\nWorker Failures:")
		for _, f := range result.WorkerFailures {
			fmt.Fprintf(w, "  worker %d at %s: %s\n", f.WorkerID, f.At.Format("15:04:05"), f.Reason)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report of the full run, every
// snapshot included.
func PrintJSONReport(w io.Writer, result metricmodel.TestResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func sortedCategories(m map[metricmodel.ErrorCategory]int64) []metricmodel.ErrorCategory {
	out := make([]metricmodel.ErrorCategory, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
