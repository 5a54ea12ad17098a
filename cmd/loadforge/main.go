package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/torosent/loadforge/internal/config"
	"github.com/torosent/loadforge/internal/coordinator"
	"github.com/torosent/loadforge/internal/dashboard"
	"github.com/torosent/loadforge/internal/metricmodel"
	"github.com/torosent/loadforge/internal/output"
	"github.com/torosent/loadforge/internal/tracing"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "worker" {
		if err := runWorker(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runWorker is the hidden subcommand the coordinator re-execs this binary
// with, once per worker process.
func runWorker() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return coordinator.RunWorkerProcess(ctx)
}

func run(args []string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	loadPattern, err := cfg.Pattern.Build()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tracer, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	var dash *dashboard.Dashboard
	var progress *output.ProgressReporter
	scenarioName := cfg.ScenarioFile

	if cfg.Dashboard {
		dash, err = dashboard.New(dashboard.RunConfig{
			BaseURL:      cfg.BaseURL,
			ScenarioPath: scenarioName,
			PatternDesc:  loadPattern.Describe(),
			MaxWorkers:   cfg.Workers,
			Duration:     cfg.Duration,
		}, cancel)
		if err != nil {
			return err
		}
		dash.Start()
		defer dash.Stop()
	} else if !cfg.JSONOutput {
		progress = output.NewProgressReporter(os.Stdout)
	}

	coord, err := coordinator.New(coordinator.Config{
		ScenarioName: scenarioName,
		BaseURL:      cfg.BaseURL,
		Pattern:      loadPattern,
		Duration:     cfg.Duration,
		Workers:      cfg.Workers,
		RatePerSec:   cfg.Rate,
		RunDir:       cfg.RunDir,
		GracePeriod:  cfg.GracePeriod,
		MinWorkers:   cfg.MinWorkers,
		Tracing:      cfg.Tracing,
		OnSnapshot: func(snap metricmodel.MetricSnapshot) {
			if dash != nil {
				dash.Update(snap)
			} else if progress != nil {
				progress.Report(snap)
			}
		},
	})
	if err != nil {
		return err
	}

	result, err := coord.Run(ctx)
	if progress != nil {
		fmt.Fprintln(os.Stdout)
	}
	if err != nil && len(result.Snapshots) == 0 {
		return err
	}

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(os.Stdout, result); err != nil {
			return err
		}
	} else {
		output.PrintReport(os.Stdout, result)
	}

	if cfg.HTMLOutput != "" {
		if err := writeHTMLReport(cfg, result); err != nil {
			return err
		}
	}

	if err != nil {
		return err
	}
	if result.Final.TotalErrors > 0 && result.Final.TotalRequests > 0 && result.Final.ErrorRate == 1 {
		return fmt.Errorf("all %d requests failed", result.Final.TotalRequests)
	}
	return nil
}

func writeHTMLReport(cfg *config.Config, result metricmodel.TestResult) error {
	f, err := os.Create(cfg.HTMLOutput)
	if err != nil {
		return fmt.Errorf("html-output: %w", err)
	}
	defer f.Close()

	return output.GenerateHTMLReport(f, result, output.ReportMetadata{
		BaseURL:      cfg.BaseURL,
		ScenarioPath: cfg.ScenarioFile,
	})
}
