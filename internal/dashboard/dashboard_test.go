package dashboard

import (
	"strings"
	"testing"
	"time"

	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/loadforge/internal/metricmodel"
)

func TestFormatEndpointRows(t *testing.T) {
	endpoints := map[string]metricmodel.EndpointSnapshot{
		"api/v1": {Requests: 80, RPS: 10.5, P99Ms: 120.5, Errors: 2},
		"api/v2": {Requests: 20, RPS: 5.0, P99Ms: 50.0},
	}

	rows := formatEndpointRows(endpoints, 100)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if !strings.Contains(rows[0], "api/v1") {
		t.Error("expected api/v1 to sort first by request count")
	}
	if !strings.Contains(rows[0], "80.0%") {
		t.Errorf("expected 80.0%% share in row, got %s", rows[0])
	}
	if !strings.Contains(rows[1], "api/v2") {
		t.Error("expected api/v2 second")
	}
}

func TestFormatEndpointRowsEmpty(t *testing.T) {
	rows := formatEndpointRows(nil, 0)
	if len(rows) != 1 || !strings.Contains(rows[0], "No endpoint data") {
		t.Errorf("expected placeholder row, got %v", rows)
	}
}

func TestFormatErrorRows(t *testing.T) {
	rows := formatErrorRows(map[metricmodel.ErrorCategory]int64{
		metricmodel.ErrorTimeout: 3,
		metricmodel.ErrorStatus5xx: 1,
	})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	joined := strings.Join(rows, "\n")
	if !strings.Contains(joined, "timeout") || !strings.Contains(joined, "status_5xx") {
		t.Errorf("expected both categories present, got %v", rows)
	}
}

func TestFormatErrorRowsEmpty(t *testing.T) {
	rows := formatErrorRows(nil)
	if len(rows) != 1 || !strings.Contains(rows[0], "No failures") {
		t.Errorf("expected placeholder row, got %v", rows)
	}
}

func TestMaxOf(t *testing.T) {
	if got := maxOf([]float64{1, 5, 2}); got != 5 {
		t.Errorf("maxOf = %v, want 5", got)
	}
	if got := maxOf(nil); got != 0 {
		t.Errorf("maxOf(nil) = %v, want 0", got)
	}
}

func TestIngestUpdatesWidgets(t *testing.T) {
	d := &Dashboard{
		latencySparkle: widgets.NewSparklineGroup(widgets.NewSparkline()),
		latencyPara:    widgets.NewParagraph(),
		rpsGauge:       widgets.NewGauge(),
		errorList:      widgets.NewList(),
		endpointList:   widgets.NewList(),
		summaryPara:    widgets.NewParagraph(),
		cfg:            RunConfig{BaseURL: "https://api.example.com", MaxWorkers: 20, Duration: 30 * time.Second},
	}

	d.ingest(metricmodel.MetricSnapshot{
		ElapsedSeconds:    5,
		ActiveUsers:       10,
		TargetConcurrency: 20,
		TotalRequests:     500,
		RequestsPerSecond: 150,
		ErrorRate:         0.01,
		P50Ms:             10,
		P95Ms:             20,
		P99Ms:             30,
		Endpoints: map[string]metricmodel.EndpointSnapshot{
			"get_status": {Requests: 500, RPS: 150, P99Ms: 30},
		},
	})

	if !strings.Contains(d.summaryPara.Text, "https://api.example.com") {
		t.Errorf("expected base URL in summary, got %q", d.summaryPara.Text)
	}
	if !strings.Contains(d.rpsGauge.Label, "150.0 RPS") {
		t.Errorf("expected RPS in gauge label, got %q", d.rpsGauge.Label)
	}
	if len(d.endpointList.Rows) != 1 || !strings.Contains(d.endpointList.Rows[0], "get_status") {
		t.Errorf("expected endpoint row, got %v", d.endpointList.Rows)
	}
	if len(d.latencyHistory) != 1 || d.latencyHistory[0] != 30 {
		t.Errorf("expected latency history to record P99, got %v", d.latencyHistory)
	}
}

func TestFormatRunParams(t *testing.T) {
	tests := []struct {
		name     string
		cfg      RunConfig
		contains []string
	}{
		{
			name:     "basic config",
			cfg:      RunConfig{MaxWorkers: 10, Duration: 30 * time.Second, PatternDesc: "ramp"},
			contains: []string{"Pattern: ramp", "Workers: 10", "Duration: 30s"},
		},
		{
			name:     "scenario path shown",
			cfg:      RunConfig{ScenarioPath: "scenarios/checkout.yaml"},
			contains: []string{"Scenario: scenarios/checkout.yaml"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Dashboard{cfg: tt.cfg}
			result := d.formatRunParams()
			for _, s := range tt.contains {
				if !strings.Contains(result, s) {
					t.Errorf("expected result to contain %q, got %q", s, result)
				}
			}
		})
	}
}

func TestFormatRunParamsEmpty(t *testing.T) {
	d := &Dashboard{}
	if got := d.formatRunParams(); got != "" {
		t.Errorf("expected empty string for empty config, got %q", got)
	}
}

func TestUpdateDropsWhenChannelFull(t *testing.T) {
	d := &Dashboard{snapshots: make(chan metricmodel.MetricSnapshot, 1)}
	d.Update(metricmodel.MetricSnapshot{TotalRequests: 1})
	d.Update(metricmodel.MetricSnapshot{TotalRequests: 2}) // should not block

	snap := <-d.snapshots
	if snap.TotalRequests != 1 {
		t.Errorf("expected first snapshot to be retained, got %+v", snap)
	}
}
