// Package config loads LoadForge's CLI flags and optional config file into
// a validated Config, layering spf13/viper file settings under spf13/pflag
// overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/torosent/loadforge/internal/pattern"
)

// Config is the fully-resolved set of options for one `loadforge run`
// invocation.
type Config struct {
	BaseURL      string            `mapstructure:"base_url"`
	ScenarioFile string            `mapstructure:"scenario"`
	Headers      map[string]string `mapstructure:"headers"`
	Workers      int               `mapstructure:"workers"`
	Rate         float64           `mapstructure:"rate"`
	Duration     time.Duration     `mapstructure:"duration"`
	GracePeriod  time.Duration     `mapstructure:"grace_period"`
	MinWorkers   int               `mapstructure:"min_workers"`
	Pattern      PatternConfig     `mapstructure:"pattern"`
	JSONOutput   bool              `mapstructure:"json_output"`
	Dashboard    bool              `mapstructure:"dashboard"`
	LogErrors    bool              `mapstructure:"log_errors"`
	HTMLOutput   string            `mapstructure:"html_output"`
	RunDir       string            `mapstructure:"run_dir"`
	Tracing      TracingConfig     `mapstructure:"tracing"`
	ConfigFile   string            `mapstructure:"-"`
}

// PatternType names one of the five load-pattern variants configurable from
// flags or a config file; composite patterns are not among them.
type PatternType string

const (
	PatternConstant PatternType = "constant"
	PatternRamp     PatternType = "ramp"
	PatternStep     PatternType = "step"
	PatternSpike    PatternType = "spike"
	PatternDiurnal  PatternType = "diurnal"
)

// PatternConfig carries the fields for whichever PatternType is selected;
// fields outside the selected type are ignored.
type PatternConfig struct {
	Type PatternType `mapstructure:"type"`

	N int `mapstructure:"n"` // constant

	Start    int           `mapstructure:"start"` // ramp
	End      int           `mapstructure:"end"`
	RampDur  time.Duration `mapstructure:"ramp_duration"`

	StepStart    int           `mapstructure:"step_start"` // step
	StepSize     int           `mapstructure:"step_size"`
	StepDuration time.Duration `mapstructure:"step_duration"`
	Steps        int           `mapstructure:"steps"`

	Base          int           `mapstructure:"base"` // spike
	SpikeUsers    int           `mapstructure:"spike_users"`
	SpikeDuration time.Duration `mapstructure:"spike_duration"`

	Min    int           `mapstructure:"min"` // diurnal
	Max    int           `mapstructure:"max"`
	Period time.Duration `mapstructure:"period"`
}

// TracingConfig mirrors a conventional tracing.Config shape, gated off by
// default the same way.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

// Build converts the PatternConfig into a pattern.Pattern, defaulting to a
// flat constant(1) pattern if Type is unset.
func (p PatternConfig) Build() (pattern.Pattern, error) {
	switch p.Type {
	case "", PatternConstant:
		n := p.N
		if n <= 0 {
			n = 1
		}
		return pattern.Constant(n), nil
	case PatternRamp:
		return pattern.Ramp(p.Start, p.End, p.RampDur), nil
	case PatternStep:
		return pattern.StepPattern(p.StepStart, p.StepSize, p.StepDuration, p.Steps), nil
	case PatternSpike:
		return pattern.Spike(p.Base, p.SpikeUsers, p.SpikeDuration), nil
	case PatternDiurnal:
		return pattern.Diurnal(p.Min, p.Max, p.Period), nil
	default:
		return pattern.Pattern{}, fmt.Errorf("config: unsupported pattern type %q", p.Type)
	}
}

// ValidationError aggregates every validation issue found, so the CLI can
// report them all at once instead of stopping at the first.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the config for internal consistency and rejects
// configuration errors before the run starts.
func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.BaseURL) == "" && c.ScenarioFile == "" {
		issues = append(issues, "base-url or scenario is required (use --help for usage information)")
	}
	if c.Workers < 0 {
		issues = append(issues, "workers must be >= 0")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be >= 0")
	}
	if c.GracePeriod < 0 {
		issues = append(issues, "grace-period must be >= 0")
	}
	if c.MinWorkers < 0 {
		issues = append(issues, "min-workers must be >= 0")
	}
	if c.MinWorkers > c.Workers && c.Workers > 0 {
		issues = append(issues, "min-workers must not exceed workers")
	}
	if c.Dashboard && c.JSONOutput {
		issues = append(issues, "dashboard and json-output are mutually exclusive")
	}
	if c.Rate > 100_000 {
		fmt.Fprintf(os.Stderr, "WARNING: high rate limit configured (%.0f req/s). Ensure you have authorization to test the target system.\n", c.Rate)
	}

	issues = append(issues, validatePattern(c.Pattern)...)

	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.Endpoint) == "" {
		issues = append(issues, "tracing: endpoint is required when tracing.enabled is true")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validatePattern(p PatternConfig) []string {
	var issues []string
	switch p.Type {
	case "", PatternConstant:
		if p.N < 0 {
			issues = append(issues, "pattern: n must be >= 0")
		}
	case PatternRamp:
		if p.RampDur < 0 {
			issues = append(issues, "pattern: ramp_duration must be >= 0")
		}
		if p.Start < 0 || p.End < 0 {
			issues = append(issues, "pattern: ramp start and end must be >= 0")
		}
	case PatternStep:
		if p.StepDuration <= 0 {
			issues = append(issues, "pattern: step_duration must be > 0")
		}
		if p.Steps < 0 {
			issues = append(issues, "pattern: steps must be >= 0")
		}
	case PatternSpike:
		if p.SpikeDuration <= 0 {
			issues = append(issues, "pattern: spike_duration must be > 0")
		}
	case PatternDiurnal:
		if p.Period <= 0 {
			issues = append(issues, "pattern: period must be > 0")
		}
		if p.Min < 0 || p.Max < 0 {
			issues = append(issues, "pattern: diurnal min and max must be >= 0")
		}
	default:
		issues = append(issues, fmt.Sprintf("pattern: unsupported type %q", p.Type))
	}
	return issues
}
