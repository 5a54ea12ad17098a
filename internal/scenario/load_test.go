package scenario

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
name: demo
base_url: https://example.test
headers:
  accept: application/json
think_min_ms: 5
think_max_ms: 15
tasks:
  - name: get_status
    method: GET
    path: /status
    weight: 3
  - name: post_event
    method: POST
    path: /events
    weight: 1
    body: '{"ok":true}'
`

func writeScenarioFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFileParsesTasksAndThinkTime(t *testing.T) {
	path := writeScenarioFile(t, sampleYAML)
	d, err := LoadFile(path, "")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if d.Name != "demo" {
		t.Errorf("Name = %q, want demo", d.Name)
	}
	if d.BaseURL != "https://example.test" {
		t.Errorf("BaseURL = %q, want https://example.test", d.BaseURL)
	}
	if d.ThinkMin != 5*time.Millisecond || d.ThinkMax != 15*time.Millisecond {
		t.Errorf("think times = [%v, %v], want [5ms, 15ms]", d.ThinkMin, d.ThinkMax)
	}
	if len(d.Tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(d.Tasks))
	}
}

func TestLoadFileBaseURLFlagOverridesFile(t *testing.T) {
	path := writeScenarioFile(t, sampleYAML)
	d, err := LoadFile(path, "https://override.test")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if d.BaseURL != "https://override.test" {
		t.Errorf("BaseURL = %q, want the override", d.BaseURL)
	}
}

func TestLoadFileRejectsEmptyTaskList(t *testing.T) {
	path := writeScenarioFile(t, "name: empty\ntasks: []\n")
	_, err := LoadFile(path, "")
	if err == nil {
		t.Fatal("expected LoadFile to reject a scenario with no tasks")
	}
}

func TestLoadFileMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), "")
	if err == nil {
		t.Fatal("expected LoadFile to fail for a missing file")
	}
}

type fakeClient struct {
	lastMethod string
	lastPath   string
}

func (f *fakeClient) Get(ctx context.Context, path, name string) (*http.Response, error) {
	f.lastMethod, f.lastPath = "GET", path
	return &http.Response{Body: http.NoBody, StatusCode: 200}, nil
}
func (f *fakeClient) Post(ctx context.Context, path, name string, body []byte) (*http.Response, error) {
	f.lastMethod, f.lastPath = "POST", path
	return &http.Response{Body: http.NoBody, StatusCode: 201}, nil
}
func (f *fakeClient) Put(ctx context.Context, path, name string, body []byte) (*http.Response, error) {
	f.lastMethod, f.lastPath = "PUT", path
	return &http.Response{Body: http.NoBody, StatusCode: 200}, nil
}
func (f *fakeClient) Patch(ctx context.Context, path, name string, body []byte) (*http.Response, error) {
	f.lastMethod, f.lastPath = "PATCH", path
	return &http.Response{Body: http.NoBody, StatusCode: 200}, nil
}
func (f *fakeClient) Delete(ctx context.Context, path, name string) (*http.Response, error) {
	f.lastMethod, f.lastPath = "DELETE", path
	return &http.Response{Body: http.NoBody, StatusCode: 204}, nil
}

func TestFileTaskRunnerDispatchesByMethod(t *testing.T) {
	runner := fileTaskRunner(fileTask{Name: "t", Method: "POST", Path: "/events", Body: "{}"})
	c := &fakeClient{}
	if err := runner(context.Background(), c); err != nil {
		t.Fatalf("runner() = %v", err)
	}
	if c.lastMethod != "POST" || c.lastPath != "/events" {
		t.Errorf("got %s %s, want POST /events", c.lastMethod, c.lastPath)
	}
}

func TestFileTaskRunnerDefaultsToGet(t *testing.T) {
	runner := fileTaskRunner(fileTask{Name: "t", Path: "/status"})
	c := &fakeClient{}
	if err := runner(context.Background(), c); err != nil {
		t.Fatalf("runner() = %v", err)
	}
	if c.lastMethod != "GET" {
		t.Errorf("lastMethod = %q, want GET", c.lastMethod)
	}
}
