package coordinator

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/torosent/loadforge/internal/config"
	"github.com/torosent/loadforge/internal/scenario"
	"github.com/torosent/loadforge/internal/shm"
	"github.com/torosent/loadforge/internal/tracing"
	"github.com/torosent/loadforge/internal/worker"
)

// RunWorkerProcess is the entrypoint for the hidden worker subcommand: it
// reads the environment the coordinator set at spawn time, attaches this
// process's shared-memory files, and runs its share of virtual users until
// the coordinator issues a stop command or ctx is cancelled.
func RunWorkerProcess(ctx context.Context) error {
	runDir := os.Getenv(EnvRunDir)
	runID := os.Getenv(EnvRunID)
	workerIDStr := os.Getenv(EnvWorkerID)
	scenarioName := os.Getenv(EnvScenario)
	baseURL := os.Getenv(EnvBaseURL)
	rateStr := os.Getenv(EnvRatePerWk)
	gracePeriod, _ := time.ParseDuration(os.Getenv(EnvGracePeriod))

	tracingEnabled, _ := strconv.ParseBool(os.Getenv(EnvTracingEnabled))
	tracingInsecure, _ := strconv.ParseBool(os.Getenv(EnvTracingInsecure))
	tracer, err := tracing.Init(ctx, config.TracingConfig{
		Enabled:  tracingEnabled,
		Endpoint: os.Getenv(EnvTracingEndpoint),
		Insecure: tracingInsecure,
	})
	if err != nil {
		return fmt.Errorf("worker: tracing: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	workerID64, err := strconv.ParseUint(workerIDStr, 10, 8)
	if err != nil {
		return fmt.Errorf("worker: invalid %s=%q: %w", EnvWorkerID, workerIDStr, err)
	}
	workerID := uint8(workerID64)
	rate, _ := strconv.ParseFloat(rateStr, 64)

	desc, err := scenario.Lookup(scenarioName, baseURL)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	layout := shm.AttachRunLayout(runDir, runID)

	ring, err := shm.CreateRingBuffer(layout.RingBufferPath(workerID), workerID)
	if err != nil {
		return fmt.Errorf("worker: create ring buffer: %w", err)
	}
	defer ring.Close()

	commands, err := shm.AttachCommandBlock(layout.CommandPath(workerID))
	if err != nil {
		return fmt.Errorf("worker: attach command block: %w", err)
	}
	defer commands.Close()

	labels, err := shm.AttachLabelChannel(layout.LabelChannelPath())
	if err != nil {
		return fmt.Errorf("worker: attach label channel: %w", err)
	}
	defer labels.Close()

	w, err := worker.New(worker.Config{
		WorkerID:    workerID,
		Descriptor:  desc,
		RatePerSec:  rate,
		GracePeriod: gracePeriod,
		Ring:        ring,
		Labels:      labels,
		Commands:    commands,
		Tracer:      tracer.Tracer(),
	})
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	return w.Run(ctx)
}
