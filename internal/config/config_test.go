package config

import (
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid constant pattern",
			cfg: Config{
				BaseURL: "http://localhost:8080",
				Pattern: PatternConfig{Type: PatternConstant, N: 10},
			},
		},
		{
			name:    "missing target",
			cfg:     Config{Pattern: PatternConfig{Type: PatternConstant, N: 1}},
			wantErr: true,
		},
		{
			name: "scenario file satisfies target",
			cfg: Config{
				ScenarioFile: "scenario.yaml",
				Pattern:      PatternConfig{Type: PatternConstant, N: 1},
			},
		},
		{
			name: "negative workers",
			cfg: Config{
				BaseURL: "http://localhost",
				Workers: -1,
				Pattern: PatternConfig{Type: PatternConstant, N: 1},
			},
			wantErr: true,
		},
		{
			name: "dashboard and json mutually exclusive",
			cfg: Config{
				BaseURL:    "http://localhost",
				Dashboard:  true,
				JSONOutput: true,
				Pattern:    PatternConfig{Type: PatternConstant, N: 1},
			},
			wantErr: true,
		},
		{
			name: "ramp with negative duration",
			cfg: Config{
				BaseURL: "http://localhost",
				Pattern: PatternConfig{Type: PatternRamp, Start: 0, End: 10, RampDur: -1},
			},
			wantErr: true,
		},
		{
			name: "step requires positive step duration",
			cfg: Config{
				BaseURL: "http://localhost",
				Pattern: PatternConfig{Type: PatternStep, StepDuration: 0},
			},
			wantErr: true,
		},
		{
			name: "tracing enabled without endpoint",
			cfg: Config{
				BaseURL: "http://localhost",
				Pattern: PatternConfig{Type: PatternConstant, N: 1},
				Tracing: TracingConfig{Enabled: true},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPatternConfigBuild(t *testing.T) {
	p := PatternConfig{Type: PatternRamp, Start: 0, End: 100, RampDur: 10 * time.Second}
	pat, err := p.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := pat.TargetAt(10 * time.Second); got != 100 {
		t.Errorf("TargetAt(10s) = %d, want 100", got)
	}
}

func TestPatternConfigBuildDefaultsToConstant(t *testing.T) {
	p := PatternConfig{}
	pat, err := p.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := pat.TargetAt(0); got != 1 {
		t.Errorf("TargetAt(0) = %d, want 1", got)
	}
}

func TestPatternConfigBuildUnsupported(t *testing.T) {
	p := PatternConfig{Type: "bogus"}
	if _, err := p.Build(); err == nil {
		t.Fatal("expected error for unsupported pattern type")
	}
}
