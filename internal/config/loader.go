package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader loads configuration from an optional file and CLI flags.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses args and an optional --config file into a Config. It does not
// call Validate; callers validate the result themselves.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	settings := v.AllSettings()

	cfg := &Config{
		Headers:     map[string]string{},
		Workers:     0,
		GracePeriod: 5 * time.Second,
		MinWorkers:  1,
		Pattern:     PatternConfig{Type: PatternConstant, N: 1},
		ConfigFile:  configPath,
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	return cfg, nil
}

func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "base_url", "base-url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
		cfg.BaseURL = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "scenario"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("scenario: %w", err)
		}
		cfg.ScenarioFile = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, val := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = val
		}
	}
	if raw, ok := lookupSetting(settings, "workers"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("workers: %w", err)
		}
		cfg.Workers = val
	}
	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		cfg.Rate = val
	}
	if raw, ok := lookupSetting(settings, "duration"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		cfg.Duration = val
	}
	if raw, ok := lookupSetting(settings, "grace_period", "grace-period"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("grace_period: %w", err)
		}
		cfg.GracePeriod = val
	}
	if raw, ok := lookupSetting(settings, "min_workers", "min-workers"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("min_workers: %w", err)
		}
		cfg.MinWorkers = val
	}
	if raw, ok := lookupSetting(settings, "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("json_output: %w", err)
		}
		cfg.JSONOutput = val
	}
	if raw, ok := lookupSetting(settings, "dashboard"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		cfg.Dashboard = val
	}
	if raw, ok := lookupSetting(settings, "log_errors", "log-errors"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("log_errors: %w", err)
		}
		cfg.LogErrors = val
	}
	if raw, ok := lookupSetting(settings, "html_output", "html-output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("html_output: %w", err)
		}
		cfg.HTMLOutput = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "run_dir", "run-dir"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("run_dir: %w", err)
		}
		cfg.RunDir = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "pattern"); ok {
		m, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("pattern: %w", err)
		}
		if err := applyPatternSettings(&cfg.Pattern, m); err != nil {
			return err
		}
	}
	if raw, ok := lookupSetting(settings, "tracing"); ok {
		m, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		if err := applyTracingSettings(&cfg.Tracing, m); err != nil {
			return err
		}
	}

	return nil
}

func applyPatternSettings(p *PatternConfig, m map[string]interface{}) error {
	if raw, ok := m["type"]; ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("pattern.type: %w", err)
		}
		p.Type = PatternType(strings.ToLower(strings.TrimSpace(val)))
	}
	intSetting := func(key string, set func(int)) error {
		raw, ok := m[key]
		if !ok {
			return nil
		}
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("pattern.%s: %w", key, err)
		}
		set(val)
		return nil
	}
	durSetting := func(key string, set func(time.Duration)) error {
		raw, ok := m[key]
		if !ok {
			return nil
		}
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("pattern.%s: %w", key, err)
		}
		set(val)
		return nil
	}
	for _, err := range []error{
		intSetting("n", func(v int) { p.N = v }),
		intSetting("start", func(v int) { p.Start = v }),
		intSetting("end", func(v int) { p.End = v }),
		durSetting("ramp_duration", func(v time.Duration) { p.RampDur = v }),
		intSetting("step_start", func(v int) { p.StepStart = v }),
		intSetting("step_size", func(v int) { p.StepSize = v }),
		durSetting("step_duration", func(v time.Duration) { p.StepDuration = v }),
		intSetting("steps", func(v int) { p.Steps = v }),
		intSetting("base", func(v int) { p.Base = v }),
		intSetting("spike_users", func(v int) { p.SpikeUsers = v }),
		durSetting("spike_duration", func(v time.Duration) { p.SpikeDuration = v }),
		intSetting("min", func(v int) { p.Min = v }),
		intSetting("max", func(v int) { p.Max = v }),
		durSetting("period", func(v time.Duration) { p.Period = v }),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func applyTracingSettings(t *TracingConfig, m map[string]interface{}) error {
	if raw, ok := m["enabled"]; ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("tracing.enabled: %w", err)
		}
		t.Enabled = val
	}
	if raw, ok := m["endpoint"]; ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("tracing.endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := m["insecure"]; ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("tracing.insecure: %w", err)
		}
		t.Insecure = val
	}
	return nil
}
