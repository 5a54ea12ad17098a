package output

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"sort"

	"github.com/torosent/loadforge/internal/metricmodel"
)

// HTMLReportData is the data the standalone HTML report template renders.
type HTMLReportData struct {
	GeneratedAt   string
	Result        metricmodel.TestResult
	EndpointNames []string
	HistoryJSON   string
	Metadata      ReportMetadata
}

// ReportMetadata describes the run's configuration: the target URL is
// surfaced in the HTML report's header, the tasks near its bottom.
type ReportMetadata struct {
	BaseURL      string
	ScenarioPath string
	Tasks        []TestedTask
}

// TestedTask is one weighted task from the scenario that produced the run.
type TestedTask struct {
	Name   string
	Weight int
}

// historyPoint is the slice of a MetricSnapshot the time-series charts need.
type historyPoint struct {
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	RPS            float64 `json:"rps"`
	P50Ms          float64 `json:"p50_ms"`
	P95Ms          float64 `json:"p95_ms"`
	P99Ms          float64 `json:"p99_ms"`
	ErrorRate      float64 `json:"error_rate"`
}

// GenerateHTMLReport renders a standalone HTML report with embedded charts
// for a finished run.
func GenerateHTMLReport(w io.Writer, result metricmodel.TestResult, metadata ReportMetadata) error {
	final := result.Final

	endpointNames := make([]string, 0, len(final.Endpoints))
	for name := range final.Endpoints {
		endpointNames = append(endpointNames, name)
	}
	sort.Slice(endpointNames, func(i, j int) bool {
		return final.Endpoints[endpointNames[i]].Requests > final.Endpoints[endpointNames[j]].Requests
	})

	history := make([]historyPoint, 0, len(result.Snapshots))
	for _, snap := range result.Snapshots {
		history = append(history, historyPoint{
			ElapsedSeconds: snap.ElapsedSeconds,
			RPS:            snap.RequestsPerSecond,
			P50Ms:          snap.P50Ms,
			P95Ms:          snap.P95Ms,
			P99Ms:          snap.P99Ms,
			ErrorRate:      snap.ErrorRate * 100,
		})
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	data := HTMLReportData{
		GeneratedAt:   result.EndTime.Format("2006-01-02 15:04:05 MST"),
		Result:        result,
		EndpointNames: endpointNames,
		HistoryJSON:   string(historyJSON),
		Metadata:      metadata,
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
		"formatPercent": func(ratio float64) string {
			return fmt.Sprintf("%.1f", ratio*100)
		},
		"endpoint": func(name string, snap metricmodel.MetricSnapshot) metricmodel.EndpointSnapshot {
			return snap.Endpoints[name]
		},
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}

	return tmpl.Execute(w, data)
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>LoadForge Report - {{.Result.RunID}}</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1400px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header {
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            color: white;
            padding: 30px 40px;
        }
        header h1 { font-size: 2rem; margin-bottom: 10px; }
        header .meta { opacity: 0.9; font-size: 0.9rem; }
        .content { padding: 40px; }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(250px, 1fr));
            gap: 20px;
            margin-bottom: 40px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 20px;
            border-left: 4px solid #667eea;
        }
        .card h3 {
            font-size: 0.9rem;
            color: #6c757d;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 10px;
        }
        .card .value { font-size: 2rem; font-weight: bold; color: #2c3e50; }
        .card .subvalue { font-size: 0.85rem; color: #6c757d; margin-top: 5px; }
        .card.success { border-left-color: #10b981; }
        .card.error { border-left-color: #ef4444; }
        .section { margin-bottom: 40px; }
        .section h2 {
            font-size: 1.5rem;
            margin-bottom: 20px;
            padding-bottom: 10px;
            border-bottom: 2px solid #e5e7eb;
        }
        .chart-container {
            background: white;
            border-radius: 8px;
            padding: 20px;
            margin-bottom: 30px;
            border: 1px solid #e5e7eb;
        }
        .chart-container h3 { font-size: 1.1rem; margin-bottom: 15px; color: #4b5563; }
        .chart { width: 100%; height: 300px; }
        table { width: 100%; border-collapse: collapse; background: white; }
        th, td { text-align: left; padding: 12px; border-bottom: 1px solid #e5e7eb; }
        th {
            background: #f8f9fa;
            font-weight: 600;
            color: #4b5563;
            font-size: 0.9rem;
            text-transform: uppercase;
            letter-spacing: 0.5px;
        }
        tr:hover { background: #f8f9fa; }
        .badge { display: inline-block; padding: 4px 12px; border-radius: 12px; font-size: 0.85rem; font-weight: 600; }
        .badge-success { background: #d1fae5; color: #065f46; }
        .badge-error { background: #fee2e2; color: #991b1b; }
        .latency-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(150px, 1fr));
            gap: 15px;
            margin-top: 20px;
        }
        .latency-item { background: #f8f9fa; padding: 15px; border-radius: 6px; text-align: center; }
        .latency-item .label { font-size: 0.85rem; color: #6c757d; margin-bottom: 5px; }
        .latency-item .value { font-size: 1.3rem; font-weight: bold; color: #2c3e50; }
    </style>
    <script src="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.iife.min.js"></script>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.min.css">
</head>
<body>
    <div class="container">
        <header>
            <h1>LoadForge Report</h1>
            {{if .Metadata.BaseURL}}
            <div class="meta" style="margin-top: 5px;">Target: <a href="{{.Metadata.BaseURL}}" style="color: white; text-decoration: underline;">{{.Metadata.BaseURL}}</a></div>
            {{end}}
            <div class="meta">Run {{.Result.RunID}} | Scenario: {{.Result.ScenarioName}} | Pattern: {{.Result.PatternDesc}}</div>
            <div class="meta">Generated: {{.GeneratedAt}} | Duration: {{.Result.Duration}}</div>
        </header>

        <div class="content">
            <div class="grid">
                <div class="card">
                    <h3>Total Requests</h3>
                    <div class="value">{{.Result.Final.TotalRequests}}</div>
                </div>
                <div class="card success">
                    <h3>Error Rate</h3>
                    <div class="value">{{formatPercent .Result.Final.ErrorRate}}% err</div>
                </div>
                <div class="card error">
                    <h3>Total Errors</h3>
                    <div class="value">{{.Result.Final.TotalErrors}}</div>
                </div>
                <div class="card">
                    <h3>Requests/sec</h3>
                    <div class="value">{{formatFloat .Result.Final.RequestsPerSecond}}</div>
                </div>
            </div>

            {{if .Result.Snapshots}}
            <div class="section">
                <h2>Performance Over Time</h2>
                <div class="chart-container">
                    <h3>Requests Per Second</h3>
                    <div id="rps-chart" class="chart"></div>
                </div>
                <div class="chart-container">
                    <h3>Latency Percentiles (ms)</h3>
                    <div id="latency-chart" class="chart"></div>
                </div>
            </div>
            {{end}}

            <div class="section">
                <h2>Latency Statistics (ms)</h2>
                <div class="latency-grid">
                    <div class="latency-item"><div class="label">Min</div><div class="value">{{formatFloat .Result.Final.LatencyMinMs}}</div></div>
                    <div class="latency-item"><div class="label">Max</div><div class="value">{{formatFloat .Result.Final.LatencyMaxMs}}</div></div>
                    <div class="latency-item"><div class="label">Mean</div><div class="value">{{formatFloat .Result.Final.LatencyAvgMs}}</div></div>
                    <div class="latency-item"><div class="label">P50</div><div class="value">{{formatFloat .Result.Final.P50Ms}}</div></div>
                    <div class="latency-item"><div class="label">P90</div><div class="value">{{formatFloat .Result.Final.P90Ms}}</div></div>
                    <div class="latency-item"><div class="label">P95</div><div class="value">{{formatFloat .Result.Final.P95Ms}}</div></div>
                    <div class="latency-item"><div class="label">P99</div><div class="value">{{formatFloat .Result.Final.P99Ms}}</div></div>
                    <div class="latency-item"><div class="label">P99.9</div><div class="value">{{formatFloat .Result.Final.P999Ms}}</div></div>
                </div>
            </div>

            {{if .EndpointNames}}
            <div class="section">
                <h2>Endpoint Breakdown</h2>
                <table>
                    <thead>
                        <tr><th>Endpoint</th><th>Requests</th><th>RPS</th><th>Errors</th><th>P50</th><th>P95</th><th>P99</th></tr>
                    </thead>
                    <tbody>
                        {{range .EndpointNames}}
                        {{$ep := endpoint . $.Result.Final}}
                        <tr>
                            <td><strong>{{.}}</strong></td>
                            <td>{{$ep.Requests}}</td>
                            <td>{{formatFloat $ep.RPS}}</td>
                            <td>{{$ep.Errors}} ({{formatPercent $ep.ErrorRate}}%)</td>
                            <td>{{formatFloat $ep.P50Ms}}</td>
                            <td>{{formatFloat $ep.P95Ms}}</td>
                            <td>{{formatFloat $ep.P99Ms}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{if .Result.WorkerFailures}}
            <div class="section">
                <h2>Worker Failures</h2>
                <table>
                    <thead><tr><th>Worker</th><th>At</th><th>Reason</th></tr></thead>
                    <tbody>
                        {{range .Result.WorkerFailures}}
                        <tr><td>{{.WorkerID}}</td><td>{{.At.Format "15:04:05"}}</td><td><span class="badge badge-error">{{.Reason}}</span></td></tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{if .Metadata.Tasks}}
            <div class="section">
                <h2>Scenario Tasks</h2>
                <table>
                    <thead><tr><th>Name</th><th>Weight</th></tr></thead>
                    <tbody>
                        {{range .Metadata.Tasks}}
                        <tr>
                            <td><strong>{{.Name}}</strong></td>
                            <td>{{.Weight}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}
        </div>
    </div>

    {{if .Result.Snapshots}}
    <script>
        const history = JSON.parse({{.HistoryJSON}});
        if (history && history.length > 0) {
            const elapsed = history.map(d => d.elapsed_seconds);

            new uPlot({
                title: "Requests Per Second",
                width: document.getElementById('rps-chart').offsetWidth,
                height: 300,
                scales: { x: { time: false } },
                series: [
                    { label: "Time (s)" },
                    { label: "RPS", stroke: "#667eea", fill: "rgba(102, 126, 234, 0.1)", width: 2 }
                ],
                axes: [ { label: "Time (seconds)" }, { label: "Requests/sec" } ]
            }, [elapsed, history.map(d => d.rps)], document.getElementById('rps-chart'));

            new uPlot({
                title: "Latency Percentiles",
                width: document.getElementById('latency-chart').offsetWidth,
                height: 300,
                scales: { x: { time: false } },
                series: [
                    { label: "Time (s)" },
                    { label: "P50", stroke: "#10b981", width: 2 },
                    { label: "P95", stroke: "#f59e0b", width: 2 },
                    { label: "P99", stroke: "#ef4444", width: 2 }
                ],
                axes: [ { label: "Time (seconds)" }, { label: "Latency (ms)" } ]
            }, [elapsed, history.map(d => d.p50_ms), history.map(d => d.p95_ms), history.map(d => d.p99_ms)], document.getElementById('latency-chart'));
        }
    </script>
    {{end}}
</body>
</html>
`
