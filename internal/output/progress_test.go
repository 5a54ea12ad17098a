package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/torosent/loadforge/internal/metricmodel"
)

func TestReportRendersCoreFields(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressReporter(&buf)

	p.Report(metricmodel.MetricSnapshot{
		ElapsedSeconds:    5,
		ActiveUsers:       10,
		TargetConcurrency: 10,
		TotalRequests:     500,
		RequestsPerSecond: 100,
		ErrorRate:         0.02,
		P99Ms:             42.5,
	})

	out := buf.String()
	if !strings.Contains(out, "requests=500") {
		t.Errorf("expected requests=500 in output, got %q", out)
	}
	if !strings.Contains(out, "users=10/10") {
		t.Errorf("expected users=10/10 in output, got %q", out)
	}
}

func TestReportIncludesTopEndpoint(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressReporter(&buf)

	p.Report(metricmodel.MetricSnapshot{
		Endpoints: map[string]metricmodel.EndpointSnapshot{
			"get_status": {Requests: 300, P99Ms: 10},
			"post_event": {Requests: 100, P99Ms: 20},
		},
	})

	out := buf.String()
	if !strings.Contains(out, "top: get_status") {
		t.Errorf("expected the higher-volume endpoint to be reported, got %q", out)
	}
}

func TestReportWithNoEndpointsOmitsTopSection(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressReporter(&buf)
	p.Report(metricmodel.MetricSnapshot{})

	if strings.Contains(buf.String(), "top:") {
		t.Error("expected no top-endpoint section when no endpoints are present")
	}
}

func TestNewProgressReporterDefaultsToDiscard(t *testing.T) {
	p := NewProgressReporter(nil)
	p.Report(metricmodel.MetricSnapshot{}) // should not panic
}
