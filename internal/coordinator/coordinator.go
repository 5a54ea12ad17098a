// Package coordinator owns a run end to end: it spawns one OS process per
// worker, distributes target
// concurrency across them every scheduler tick, detects and redistributes
// around failed workers, drains metrics through the aggregator, and owns
// graceful shutdown.
package coordinator

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/loadforge/internal/aggregator"
	"github.com/torosent/loadforge/internal/config"
	"github.com/torosent/loadforge/internal/metricmodel"
	"github.com/torosent/loadforge/internal/pattern"
	"github.com/torosent/loadforge/internal/scheduler"
	"github.com/torosent/loadforge/internal/shm"
)

// EnvRunDir and friends are the environment variables the
// coordinator sets on every spawned worker process, and the worker
// subcommand reads back, so scenario/run identity crosses the exec
// boundary without needing a second IPC channel.
const (
	EnvRunDir          = "LOADFORGE_RUN_DIR"
	EnvRunID           = "LOADFORGE_RUN_ID"
	EnvWorkerID        = "LOADFORGE_WORKER_ID"
	EnvScenario        = "LOADFORGE_SCENARIO"
	EnvBaseURL         = "LOADFORGE_BASE_URL"
	EnvRatePerWk       = "LOADFORGE_RATE_PER_WORKER"
	EnvTracingEnabled  = "LOADFORGE_TRACING_ENABLED"
	EnvTracingEndpoint = "LOADFORGE_TRACING_ENDPOINT"
	EnvTracingInsecure = "LOADFORGE_TRACING_INSECURE"
	EnvGracePeriod     = "LOADFORGE_GRACE_PERIOD"
)

// Config configures one run.
type Config struct {
	ScenarioName string
	BaseURL      string
	Pattern      pattern.Pattern
	Duration     time.Duration // 0 = run until pattern ends or ctx is cancelled
	Workers      int           // 0 = runtime.NumCPU()
	RatePerSec   float64       // 0 = unlimited
	RunDir       string        // base directory for shared-memory files
	GracePeriod  time.Duration // default 5s
	MinWorkers   int           // minimum live workers before the run aborts; default 1
	Executable   string        // path to re-exec for worker processes; defaults to os.Executable()
	OnSnapshot   aggregator.SnapshotFunc
	Tracing      config.TracingConfig
}

// minWorkers resolves the configured minimum-worker threshold, defaulting
// to 1 (a run with zero live workers can never make progress).
func (c Config) minWorkers() int {
	if c.MinWorkers <= 0 {
		return 1
	}
	return c.MinWorkers
}

// Coordinator runs one load test: spawning workers, scheduling target
// concurrency, and aggregating results into a TestResult.
type Coordinator struct {
	cfg    Config
	runID  string
	layout *shm.RunLayout

	exePath string

	mu       sync.Mutex
	procs    map[uint8]*workerProc
	failed   map[uint8]bool
	restarts map[uint8]int
	commands map[uint8]*shm.CommandBlock

	agg *aggregator.Aggregator
}

type workerProc struct {
	cmd  *exec.Cmd
	ring *shm.RingConsumer
}

// New prepares a Coordinator for Run: allocating the run's shared-memory
// directory and a ULID run identifier.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	if cfg.RunDir == "" {
		cfg.RunDir = os.TempDir()
	}
	runID := newRunID()
	layout, err := shm.NewRunLayout(cfg.RunDir, runID)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	return &Coordinator{
		cfg:      cfg,
		runID:    runID,
		layout:   layout,
		procs:    make(map[uint8]*workerProc),
		failed:   make(map[uint8]bool),
		restarts: make(map[uint8]int),
		commands: make(map[uint8]*shm.CommandBlock),
	}, nil
}

// Run executes the full test: spawn workers, drive the scheduler and
// aggregator, and return the TestResult once the run ends (duration
// elapsed, pattern finished, or ctx cancelled). It always releases the
// run's shared-memory directory before returning.
func (c *Coordinator) Run(ctx context.Context) (metricmodel.TestResult, error) {
	defer c.layout.Close()

	result := metricmodel.TestResult{
		RunID:        c.runID,
		ScenarioName: c.cfg.ScenarioName,
		PatternDesc:  c.cfg.Pattern.Describe(),
		StartTime:    time.Now(),
	}

	labelChan, err := shm.CreateLabelChannel(c.layout.LabelChannelPath())
	if err != nil {
		return result, fmt.Errorf("coordinator: create label channel: %w", err)
	}
	defer labelChan.Close()
	labelConsumer := shm.NewLabelConsumer(labelChan)

	if err := c.spawnWorkers(); err != nil {
		return result, err
	}
	defer c.killAll()

	c.agg = aggregator.New(labelConsumer, result.StartTime, time.Second, func(s metricmodel.MetricSnapshot) {
		result.Append(s)
		if c.cfg.OnSnapshot != nil {
			c.cfg.OnSnapshot(s)
		}
	})
	c.mu.Lock()
	for id, p := range c.procs {
		c.agg.AddSource(&aggregator.WorkerSource{WorkerID: id, Ring: p.ring})
	}
	c.mu.Unlock()

	runCtx := ctx
	var cancel context.CancelFunc
	duration := c.cfg.Duration
	if duration <= 0 {
		duration = c.cfg.Pattern.TotalDuration()
	}
	if duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	aggTicker := time.NewTicker(time.Second)
	defer aggTicker.Stop()

	sched := scheduler.New(c.cfg.Pattern, time.Second, func(elapsed time.Duration, target int) {
		c.broadcastTarget(target)
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sched.Run(runCtx)
	}()

	activeUsers := 0
loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-aggTicker.C:
			target := c.cfg.Pattern.TargetAt(time.Since(result.StartTime))
			activeUsers = target
			snap := c.agg.Tick(target, activeUsers)
			if reason, abort := c.handleWorkerFailures(snap.Diagnostics.FailedWorkerIDs, target, &result); abort {
				result.FailureReason = reason
				break loop
			}
		}
	}
	wg.Wait()

	c.broadcastStop()
	c.waitForExit(c.cfg.GracePeriod)

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Final = c.agg.FinalSnapshot(activeUsers)
	if result.FailureReason != "" {
		return result, fmt.Errorf("coordinator: %s", result.FailureReason)
	}
	return result, nil
}

func (c *Coordinator) spawnWorkers() error {
	exePath := c.cfg.Executable
	if exePath == "" {
		p, err := os.Executable()
		if err != nil {
			return fmt.Errorf("coordinator: resolve executable: %w", err)
		}
		exePath = p
	}
	c.exePath = exePath

	for i := 0; i < c.cfg.Workers; i++ {
		workerID := uint8(i)
		cb, err := shm.CreateCommandBlock(c.layout.CommandPath(workerID))
		if err != nil {
			return fmt.Errorf("coordinator: create command block %d: %w", workerID, err)
		}
		c.commands[workerID] = cb

		if err := c.startWorkerProcess(workerID); err != nil {
			return err
		}
	}
	return nil
}

// startWorkerProcess launches (or relaunches) the OS process for workerID
// and attaches its ring buffer, replacing any prior procs entry. The
// command block for workerID must already exist in c.commands.
func (c *Coordinator) startWorkerProcess(workerID uint8) error {
	rate := c.cfg.RatePerSec
	if rate > 0 {
		rate = rate / float64(c.cfg.Workers)
	}

	cmd := exec.Command(c.exePath, "worker")
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", EnvRunDir, c.cfg.RunDir),
		fmt.Sprintf("%s=%s", EnvRunID, c.runID),
		fmt.Sprintf("%s=%d", EnvWorkerID, workerID),
		fmt.Sprintf("%s=%s", EnvScenario, c.cfg.ScenarioName),
		fmt.Sprintf("%s=%s", EnvBaseURL, c.cfg.BaseURL),
		fmt.Sprintf("%s=%f", EnvRatePerWk, rate),
		fmt.Sprintf("%s=%s", EnvGracePeriod, c.cfg.GracePeriod),
		fmt.Sprintf("%s=%t", EnvTracingEnabled, c.cfg.Tracing.Enabled),
		fmt.Sprintf("%s=%s", EnvTracingEndpoint, c.cfg.Tracing.Endpoint),
		fmt.Sprintf("%s=%t", EnvTracingInsecure, c.cfg.Tracing.Insecure),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("coordinator: start worker %d: %w", workerID, err)
	}

	ringPath := c.layout.RingBufferPath(workerID)
	consumer, err := waitForRingBuffer(ringPath, 5*time.Second)
	if err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("coordinator: worker %d never attached: %w", workerID, err)
	}

	c.mu.Lock()
	c.procs[workerID] = &workerProc{cmd: cmd, ring: consumer}
	c.mu.Unlock()
	return nil
}

// restartWorker tears down workerID's dead process and ring consumer and
// starts a fresh one in its place, reusing the existing command block and
// swapping the aggregator's source so the stale ring buffer is no longer
// drained.
func (c *Coordinator) restartWorker(workerID uint8) error {
	c.mu.Lock()
	old := c.procs[workerID]
	delete(c.procs, workerID)
	c.mu.Unlock()
	if old != nil {
		if old.cmd.Process != nil {
			_ = old.cmd.Process.Kill()
			_ = old.cmd.Wait()
		}
		if old.ring != nil {
			_ = old.ring.Close()
		}
	}
	if c.agg != nil {
		c.agg.RemoveSource(workerID)
	}

	if err := c.startWorkerProcess(workerID); err != nil {
		return err
	}

	c.mu.Lock()
	p := c.procs[workerID]
	c.mu.Unlock()
	if c.agg != nil && p != nil {
		c.agg.AddSource(&aggregator.WorkerSource{WorkerID: workerID, Ring: p.ring})
	}
	return nil
}

// waitForRingBuffer polls for the worker-created ring-buffer file to appear,
// since the worker (not the coordinator) is the ring buffer's producer and
// owns its creation.
func waitForRingBuffer(path string, timeout time.Duration) (*shm.RingConsumer, error) {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return shm.AttachRingConsumer(path)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for %s", path)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// broadcastTarget splits target concurrency across live (non-failed)
// workers by integer division, handing the remainder to the lowest-ID
// workers, using an even-split rule.
func (c *Coordinator) broadcastTarget(target int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := make([]uint8, 0, len(c.commands))
	for id := range c.commands {
		if !c.failed[id] {
			live = append(live, id)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })
	if len(live) == 0 {
		return
	}
	share, remainder := divideShares(target, len(live))
	for i, id := range live {
		n := share
		if i < remainder {
			n++
		}
		c.commands[id].SetTarget(uint32(n))
	}
}

// markFailed records newly-observed worker failures and reports whether any
// new failure was added, so the caller knows to redistribute the target
// concurrency share among the remaining live workers.
func (c *Coordinator) markFailed(ids []uint8) bool {
	if len(ids) == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	for _, id := range ids {
		if !c.failed[id] {
			c.failed[id] = true
			changed = true
		}
	}
	return changed
}

// handleWorkerFailures processes the worker IDs the aggregator flagged as
// failed this tick: it records a WorkerFailureEvent and attempts exactly
// one restart per worker id, redistributing target concurrency around
// whatever is still down afterwards. It reports a non-empty reason and
// abort=true if a worker id fails a second time (exhausting its one
// permitted restart), if a restart attempt itself fails, or if the number
// of live workers drops below the configured minimum.
func (c *Coordinator) handleWorkerFailures(ids []uint8, target int, result *metricmodel.TestResult) (reason string, abort bool) {
	if len(ids) == 0 {
		return "", false
	}

	c.mu.Lock()
	var fresh []uint8
	for _, id := range ids {
		if !c.failed[id] {
			fresh = append(fresh, id)
		}
	}
	c.mu.Unlock()
	if len(fresh) == 0 {
		return "", false
	}

	c.markFailed(fresh)
	for _, id := range fresh {
		result.WorkerFailures = append(result.WorkerFailures, metricmodel.WorkerFailureEvent{
			WorkerID: id,
			At:       time.Now(),
			Reason:   "heartbeat stale for more than 5s",
		})
	}

	for _, id := range fresh {
		c.mu.Lock()
		attempts := c.restarts[id]
		c.restarts[id]++
		c.mu.Unlock()

		if attempts >= 1 {
			return fmt.Sprintf("worker %d failed again after already using its one permitted restart", id), true
		}
		if err := c.restartWorker(id); err != nil {
			return fmt.Sprintf("worker %d could not be restarted: %v", id, err), true
		}
		c.mu.Lock()
		delete(c.failed, id)
		c.mu.Unlock()
	}

	c.broadcastTarget(target)

	c.mu.Lock()
	live := 0
	for id := range c.commands {
		if !c.failed[id] {
			live++
		}
	}
	total := len(c.commands)
	min := c.cfg.minWorkers()
	c.mu.Unlock()
	if live < min {
		return fmt.Sprintf("only %d of %d workers are live, below the minimum of %d", live, total, min), true
	}

	return "", false
}

func divideShares(total, n int) (share, remainder int) {
	if n <= 0 {
		return 0, 0
	}
	return total / n, total % n
}

func (c *Coordinator) broadcastStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cb := range c.commands {
		cb.SetStop()
	}
}

func (c *Coordinator) waitForExit(grace time.Duration) {
	c.mu.Lock()
	procs := make([]*workerProc, 0, len(c.procs))
	for _, p := range c.procs {
		procs = append(procs, p)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, p := range procs {
			_ = p.cmd.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		c.killAll()
	}
}

func (c *Coordinator) killAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.procs {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		if p.ring != nil {
			_ = p.ring.Close()
		}
		delete(c.procs, id)
	}
}

func newRunID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return id.String()
}
