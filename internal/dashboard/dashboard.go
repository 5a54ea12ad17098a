package dashboard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/loadforge/internal/metricmodel"
)

// RunConfig holds the run parameters shown in the summary panel.
type RunConfig struct {
	BaseURL      string
	ScenarioPath string
	PatternDesc  string
	MaxWorkers   int
	Duration     time.Duration
}

// Dashboard renders a live terminal UI driven by the aggregator's
// once-per-second snapshots.
type Dashboard struct {
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	snapshots chan metricmodel.MetricSnapshot
	latest    metricmodel.MetricSnapshot

	grid           *ui.Grid
	latencySparkle *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	rpsGauge       *widgets.Gauge
	errorList      *widgets.List
	endpointList   *widgets.List
	summaryPara    *widgets.Paragraph

	latencyHistory []float64
	startTime      time.Time
	cfg            RunConfig
}

// New creates a new Dashboard.
func New(cfg RunConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("init termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dashboard{
		ctx:            ctx,
		cancel:         cancel,
		shutdownFunc:   shutdownFunc,
		snapshots:      make(chan metricmodel.MetricSnapshot, 8),
		latencyHistory: make([]float64, 0, 100),
		startTime:      time.Now(),
		cfg:            cfg,
	}

	d.initWidgets()
	d.setupGrid()

	return d, nil
}

func (d *Dashboard) initWidgets() {
	sparkline := widgets.NewSparkline()
	sparkline.Title = "P99 Latency (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.latencySparkle = widgets.NewSparklineGroup(sparkline)
	d.latencySparkle.Title = "Latency"
	d.latencySparkle.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.Text = "Min: 0ms\nMean: 0ms\nP50: 0ms\nP95: 0ms\nP99: 0ms"
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.rpsGauge = widgets.NewGauge()
	d.rpsGauge.Title = "Requests Per Second"
	d.rpsGauge.Percent = 0
	d.rpsGauge.BarColor = ui.ColorBlue
	d.rpsGauge.BorderStyle.Fg = ui.ColorCyan
	d.rpsGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.errorList = widgets.NewList()
	d.errorList.Title = "Errors by Category"
	d.errorList.Rows = []string{"No failures"}
	d.errorList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.errorList.BorderStyle.Fg = ui.ColorCyan

	d.endpointList = widgets.NewList()
	d.endpointList.Title = "Endpoints"
	d.endpointList.Rows = []string{"Awaiting data"}
	d.endpointList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.endpointList.BorderStyle.Fg = ui.ColorCyan

	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run Summary"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.16,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.18,
			ui.NewCol(1.0, d.rpsGauge),
		),
		ui.NewRow(0.28,
			ui.NewCol(0.65, d.latencySparkle),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.38,
			ui.NewCol(0.5, d.endpointList),
			ui.NewCol(0.5, d.errorList),
		),
	)
}

// Start begins the dashboard's render loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop tears down the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	time.Sleep(100 * time.Millisecond)
}

// Update feeds a fresh snapshot to the dashboard, dropping it if the
// 8-snapshot buffer the render loop reads from is full.
func (d *Dashboard) Update(snap metricmodel.MetricSnapshot) {
	select {
	case d.snapshots <- snap:
	default:
	}
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	uiEvents := ui.PollEvents()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case snap := <-d.snapshots:
			d.ingest(snap)
			d.render()
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}
			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		}
	}
}

func (d *Dashboard) ingest(snap metricmodel.MetricSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latest = snap

	d.latencyHistory = append(d.latencyHistory, snap.P99Ms)
	if len(d.latencyHistory) > 100 {
		d.latencyHistory = d.latencyHistory[1:]
	}
	d.latencySparkle.Sparklines[0].Data = d.latencyHistory
	d.latencySparkle.Title = fmt.Sprintf(
		"Latency | P99 now: %.2fms | worst seen: %.2fms", snap.P99Ms, maxOf(d.latencyHistory),
	)

	maxRPS := 100.0
	if snap.RequestsPerSecond > maxRPS {
		maxRPS = snap.RequestsPerSecond
	}
	rpsPercent := int((snap.RequestsPerSecond / maxRPS) * 100)
	if rpsPercent > 100 {
		rpsPercent = 100
	}
	d.rpsGauge.Percent = rpsPercent
	d.rpsGauge.Label = fmt.Sprintf("%.1f RPS | %d/%d users", snap.RequestsPerSecond, snap.ActiveUsers, snap.TargetConcurrency)

	d.summaryPara.Text = fmt.Sprintf(
		"Target: %s\n%s\nElapsed: %.0fs | Total: %d | Error rate: %.2f%%",
		d.cfg.BaseURL, d.formatRunParams(), snap.ElapsedSeconds, snap.TotalRequests, snap.ErrorRate*100,
	)

	d.latencyPara.Text = fmt.Sprintf(
		"Min:  %.2fms\nMean: %.2fms\nP50:  %.2fms\nP95:  %.2fms\nP99:  %.2fms",
		snap.LatencyMinMs, snap.LatencyAvgMs, snap.P50Ms, snap.P95Ms, snap.P99Ms,
	)

	d.errorList.Rows = formatErrorRows(snap.ErrorsByCategory)
	d.endpointList.Rows = formatEndpointRows(snap.Endpoints, snap.TotalRequests)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ui.Render(d.grid)
}

func maxOf(vals []float64) float64 {
	m := 0.0
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}

func formatEndpointRows(endpoints map[string]metricmodel.EndpointSnapshot, total int64) []string {
	if len(endpoints) == 0 {
		return []string{"[No endpoint data](fg:green)"}
	}
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if endpoints[names[i]].Requests == endpoints[names[j]].Requests {
			return names[i] < names[j]
		}
		return endpoints[names[i]].Requests > endpoints[names[j]].Requests
	})
	rows := make([]string, 0, len(names))
	for _, name := range names {
		ep := endpoints[name]
		share := 0.0
		if total > 0 {
			share = (float64(ep.Requests) / float64(total)) * 100
		}
		rows = append(rows, fmt.Sprintf("[%s](fg:cyan) | %5.1f%% | RPS %5.1f | P99 %5.1fms | Err %d",
			name, share, ep.RPS, ep.P99Ms, ep.Errors))
	}
	return rows
}

func formatErrorRows(byCategory map[metricmodel.ErrorCategory]int64) []string {
	if len(byCategory) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	categories := make([]metricmodel.ErrorCategory, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	rows := make([]string, 0, len(categories))
	for _, cat := range categories {
		rows = append(rows, fmt.Sprintf("[%s](fg:red) %d", cat, byCategory[cat]))
	}
	return rows
}

func (d *Dashboard) formatRunParams() string {
	var parts []string
	if d.cfg.PatternDesc != "" {
		parts = append(parts, fmt.Sprintf("Pattern: %s", d.cfg.PatternDesc))
	}
	if d.cfg.MaxWorkers > 0 {
		parts = append(parts, fmt.Sprintf("Workers: %d", d.cfg.MaxWorkers))
	}
	if d.cfg.Duration > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %s", d.cfg.Duration))
	}
	if d.cfg.ScenarioPath != "" {
		parts = append(parts, fmt.Sprintf("Scenario: %s", d.cfg.ScenarioPath))
	}
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += " | " + p
	}
	return out
}
