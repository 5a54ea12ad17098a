package scenario

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileTask is the YAML shape of one scenario task: a single named HTTP call
// with a fixed method, path, weight, and optional body. It is the
// data-only counterpart to a compiled-in TaskFunc, for scenario authors who
// don't need custom Go logic.
type fileTask struct {
	Name   string `yaml:"name"`
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
	Weight int    `yaml:"weight"`
	Body   string `yaml:"body"`
}

// fileDescriptor is the on-disk scenario format, decoded with
// gopkg.in/yaml.v3.
type fileDescriptor struct {
	Name           string            `yaml:"name"`
	BaseURL        string            `yaml:"base_url"`
	DefaultHeaders map[string]string `yaml:"headers"`
	ThinkMinMs     int               `yaml:"think_min_ms"`
	ThinkMaxMs     int               `yaml:"think_max_ms"`
	Tasks          []fileTask        `yaml:"tasks"`
}

// LoadFile decodes a YAML scenario file into a Descriptor. baseURL, if
// non-empty, overrides the file's base_url field — letting the CLI's
// --base-url flag win over whatever the scenario author checked in.
func LoadFile(path, baseURL string) (Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	var fd fileDescriptor
	if err := yaml.Unmarshal(raw, &fd); err != nil {
		return Descriptor{}, fmt.Errorf("scenario: parse %s: %w", path, err)
	}
	if len(fd.Tasks) == 0 {
		return Descriptor{}, fmt.Errorf("scenario: %s defines no tasks", path)
	}

	effectiveBase := fd.BaseURL
	if baseURL != "" {
		effectiveBase = baseURL
	}

	d := Descriptor{
		Name:           fd.Name,
		BaseURL:        effectiveBase,
		DefaultHeaders: fd.DefaultHeaders,
		ThinkMin:       time.Duration(fd.ThinkMinMs) * time.Millisecond,
		ThinkMax:       time.Duration(fd.ThinkMaxMs) * time.Millisecond,
	}
	for _, t := range fd.Tasks {
		t := t
		d.Tasks = append(d.Tasks, Task{
			Name:   t.Name,
			Weight: t.Weight,
			Run:    fileTaskRunner(t),
		})
	}
	return d, nil
}

// fileTaskRunner adapts a declarative fileTask into a TaskFunc.
func fileTaskRunner(t fileTask) TaskFunc {
	return func(ctx context.Context, client Client) error {
		var err error
		switch t.Method {
		case "POST":
			r, e := client.Post(ctx, t.Path, t.Name, []byte(t.Body))
			err = e
			if r != nil {
				defer r.Body.Close()
			}
		case "PUT":
			r, e := client.Put(ctx, t.Path, t.Name, []byte(t.Body))
			err = e
			if r != nil {
				defer r.Body.Close()
			}
		case "PATCH":
			r, e := client.Patch(ctx, t.Path, t.Name, []byte(t.Body))
			err = e
			if r != nil {
				defer r.Body.Close()
			}
		case "DELETE":
			r, e := client.Delete(ctx, t.Path, t.Name)
			err = e
			if r != nil {
				defer r.Body.Close()
			}
		default:
			r, e := client.Get(ctx, t.Path, t.Name)
			err = e
			if r != nil {
				defer r.Body.Close()
			}
		}
		_ = err // transport failures are already captured as RequestMetrics
		return nil
	}
}
