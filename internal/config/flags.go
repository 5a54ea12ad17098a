package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers every CLI flag to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "loadforge",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	flags.String("base-url", "", "Base URL of the target under test")
	flags.String("scenario", "", "Path to a YAML scenario file (omit to run the built-in example scenario)")
	flags.StringSlice("header", nil, "Request header in key=value form (repeatable); stored in the config, not sent by workers")

	flags.IntP("workers", "w", 0, "Number of worker processes (0 = number of CPUs)")
	flags.Float64P("rate", "r", 0, "Global requests/sec limit across all workers (0 = unlimited)")
	flags.DurationP("duration", "d", 0, "How long to run the test (0 = run until the pattern ends)")
	flags.Duration("grace-period", 5*time.Second, "Max time to wait for workers to exit after stop is signalled")
	flags.Int("min-workers", 1, "Abort the run if fewer live workers than this remain after restarts are exhausted")

	flags.String("pattern", string(PatternConstant), "Load pattern: constant, ramp, step, spike, or diurnal")
	flags.Int("pattern-n", 1, "Constant pattern: target concurrency")
	flags.Int("ramp-start", 0, "Ramp pattern: starting concurrency")
	flags.Int("ramp-end", 0, "Ramp pattern: ending concurrency")
	flags.Duration("ramp-duration", 0, "Ramp pattern: time to go from start to end")
	flags.Int("step-start", 0, "Step pattern: starting concurrency")
	flags.Int("step-size", 0, "Step pattern: concurrency increase per step")
	flags.Duration("step-duration", 0, "Step pattern: time held at each step")
	flags.Int("steps", 0, "Step pattern: number of steps after the first")
	flags.Int("spike-base", 0, "Spike pattern: baseline concurrency")
	flags.Int("spike-users", 0, "Spike pattern: concurrency during the spike")
	flags.Duration("spike-duration", 0, "Spike pattern: how long the spike lasts")
	flags.Int("diurnal-min", 0, "Diurnal pattern: trough concurrency")
	flags.Int("diurnal-max", 0, "Diurnal pattern: peak concurrency")
	flags.Duration("diurnal-period", 0, "Diurnal pattern: full cycle duration")

	flags.Bool("json-output", false, "Emit the final result as JSON instead of a text summary")
	flags.Bool("dashboard", false, "Show a live terminal dashboard")
	flags.Bool("log-errors", false, "Stored in the config; no per-request error log is written")
	flags.String("html-output", "", "Write an HTML report to the given path")
	flags.String("config", "", "Path to a YAML or JSON config file")
	flags.String("run-dir", "", "Base directory for the run's shared-memory files (default: OS temp dir)")

	flags.Bool("tracing", false, "Emit OpenTelemetry traces for requests")
	flags.String("tracing-endpoint", "", "OTLP endpoint to export traces to")
	flags.Bool("tracing-insecure", false, "Disable TLS when exporting traces")
}

func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values over whatever a
// config file already populated.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	type stringSetter func(string)
	strField := func(name string, set stringSetter) error {
		if !fs.Changed(name) {
			return nil
		}
		val, err := fs.GetString(name)
		if err != nil {
			return err
		}
		set(val)
		return nil
	}

	if err := strField("base-url", func(v string) { cfg.BaseURL = strings.TrimSpace(v) }); err != nil {
		return err
	}
	if err := strField("scenario", func(v string) { cfg.ScenarioFile = strings.TrimSpace(v) }); err != nil {
		return err
	}
	if err := strField("html-output", func(v string) { cfg.HTMLOutput = strings.TrimSpace(v) }); err != nil {
		return err
	}
	if err := strField("run-dir", func(v string) { cfg.RunDir = strings.TrimSpace(v) }); err != nil {
		return err
	}
	if err := strField("tracing-endpoint", func(v string) { cfg.Tracing.Endpoint = strings.TrimSpace(v) }); err != nil {
		return err
	}
	if err := strField("pattern", func(v string) { cfg.Pattern.Type = PatternType(strings.ToLower(strings.TrimSpace(v))) }); err != nil {
		return err
	}

	if fs.Changed("workers") {
		v, err := fs.GetInt("workers")
		if err != nil {
			return err
		}
		cfg.Workers = v
	}
	if fs.Changed("rate") {
		v, err := fs.GetFloat64("rate")
		if err != nil {
			return err
		}
		cfg.Rate = v
	}
	if fs.Changed("duration") {
		v, err := fs.GetDuration("duration")
		if err != nil {
			return err
		}
		cfg.Duration = v
	}
	if fs.Changed("grace-period") {
		v, err := fs.GetDuration("grace-period")
		if err != nil {
			return err
		}
		cfg.GracePeriod = v
	}
	if fs.Changed("min-workers") {
		v, err := fs.GetInt("min-workers")
		if err != nil {
			return err
		}
		cfg.MinWorkers = v
	}
	if fs.Changed("json-output") {
		v, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = v
	}
	if fs.Changed("dashboard") {
		v, err := fs.GetBool("dashboard")
		if err != nil {
			return err
		}
		cfg.Dashboard = v
	}
	if fs.Changed("log-errors") {
		v, err := fs.GetBool("log-errors")
		if err != nil {
			return err
		}
		cfg.LogErrors = v
	}
	if fs.Changed("tracing") {
		v, err := fs.GetBool("tracing")
		if err != nil {
			return err
		}
		cfg.Tracing.Enabled = v
	}
	if fs.Changed("tracing-insecure") {
		v, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = v
	}

	if err := applyPatternFlags(&cfg.Pattern, fs); err != nil {
		return err
	}

	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Headers[key] = strings.TrimSpace(parts[1])
		}
	}

	return nil
}

func applyPatternFlags(p *PatternConfig, fs *pflag.FlagSet) error {
	intField := func(name string, set func(int)) error {
		if !fs.Changed(name) {
			return nil
		}
		v, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		set(v)
		return nil
	}
	durField := func(name string, set func(time.Duration)) error {
		if !fs.Changed(name) {
			return nil
		}
		v, err := fs.GetDuration(name)
		if err != nil {
			return err
		}
		set(v)
		return nil
	}

	for _, err := range []error{
		intField("pattern-n", func(v int) { p.N = v }),
		intField("ramp-start", func(v int) { p.Start = v }),
		intField("ramp-end", func(v int) { p.End = v }),
		durField("ramp-duration", func(v time.Duration) { p.RampDur = v }),
		intField("step-start", func(v int) { p.StepStart = v }),
		intField("step-size", func(v int) { p.StepSize = v }),
		durField("step-duration", func(v time.Duration) { p.StepDuration = v }),
		intField("steps", func(v int) { p.Steps = v }),
		intField("spike-base", func(v int) { p.Base = v }),
		intField("spike-users", func(v int) { p.SpikeUsers = v }),
		durField("spike-duration", func(v time.Duration) { p.SpikeDuration = v }),
		intField("diurnal-min", func(v int) { p.Min = v }),
		intField("diurnal-max", func(v int) { p.Max = v }),
		durField("diurnal-period", func(v time.Duration) { p.Period = v }),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}
