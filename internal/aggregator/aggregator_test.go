package aggregator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/torosent/loadforge/internal/metricmodel"
	"github.com/torosent/loadforge/internal/shm"
)

func TestTickFoldsRecordsIntoSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.shm")
	producer, err := shm.CreateRingBuffer(path, 0)
	if err != nil {
		t.Fatalf("CreateRingBuffer: %v", err)
	}
	defer producer.Close()
	producer.Heartbeat()

	consumer, err := shm.AttachRingConsumer(path)
	if err != nil {
		t.Fatalf("AttachRingConsumer: %v", err)
	}
	defer consumer.Close()

	producer.Push(metricmodel.RequestMetric{NameHash: 1, Method: metricmodel.MethodGet, StatusCode: 200, LatencyMs: 10, ErrorCategory: metricmodel.ErrorNone})
	producer.Push(metricmodel.RequestMetric{NameHash: 1, Method: metricmodel.MethodGet, StatusCode: 500, LatencyMs: 20, ErrorCategory: metricmodel.ErrorStatus5xx})

	var snapshots []metricmodel.MetricSnapshot
	agg := New(nil, time.Now(), time.Second, func(s metricmodel.MetricSnapshot) {
		snapshots = append(snapshots, s)
	})
	agg.AddSource(&WorkerSource{WorkerID: 0, Ring: consumer})

	snap := agg.Tick(5, 5)

	if snap.RequestsThisTick != 2 {
		t.Errorf("RequestsThisTick = %d, want 2", snap.RequestsThisTick)
	}
	if snap.ErrorsThisTick != 1 {
		t.Errorf("ErrorsThisTick = %d, want 1", snap.ErrorsThisTick)
	}
	if snap.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, want 2", snap.TotalRequests)
	}
	if snap.ErrorRate != 0.5 {
		t.Errorf("ErrorRate = %v, want 0.5", snap.ErrorRate)
	}
	if len(snapshots) != 1 {
		t.Fatalf("onSnap invoked %d times, want 1", len(snapshots))
	}
}

func TestTickDetectsStaleHeartbeatAsFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.shm")
	producer, err := shm.CreateRingBuffer(path, 3)
	if err != nil {
		t.Fatalf("CreateRingBuffer: %v", err)
	}
	defer producer.Close()
	// CreateRingBuffer stamps a fresh heartbeat; zero the 8-byte heartbeat
	// field (header offset 8) so the timestamp is far in the past.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open ring file: %v", err)
	}
	if _, err := f.WriteAt(make([]byte, 8), 8); err != nil {
		t.Fatalf("zero heartbeat: %v", err)
	}
	f.Close()

	consumer, err := shm.AttachRingConsumer(path)
	if err != nil {
		t.Fatalf("AttachRingConsumer: %v", err)
	}
	defer consumer.Close()

	agg := New(nil, time.Now(), time.Second, nil)
	agg.AddSource(&WorkerSource{WorkerID: 3, Ring: consumer})

	snap := agg.Tick(1, 1)
	if len(snap.Diagnostics.FailedWorkerIDs) != 1 || snap.Diagnostics.FailedWorkerIDs[0] != 3 {
		t.Errorf("FailedWorkerIDs = %v, want [3]", snap.Diagnostics.FailedWorkerIDs)
	}
}

func TestTickTracksDroppedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.shm")
	producer, err := shm.CreateRingBuffer(path, 0)
	if err != nil {
		t.Fatalf("CreateRingBuffer: %v", err)
	}
	defer producer.Close()
	producer.Heartbeat()

	for i := 0; i < shm.SlotCount+7; i++ {
		producer.Push(metricmodel.RequestMetric{NameHash: 1})
	}

	consumer, err := shm.AttachRingConsumer(path)
	if err != nil {
		t.Fatalf("AttachRingConsumer: %v", err)
	}
	defer consumer.Close()

	agg := New(nil, time.Now(), time.Second, nil)
	agg.AddSource(&WorkerSource{WorkerID: 0, Ring: consumer})

	snap := agg.Tick(0, 0)
	if snap.Diagnostics.DroppedRecords != 7 {
		t.Errorf("DroppedRecords = %d, want 7", snap.Diagnostics.DroppedRecords)
	}
}

func TestRegisterLabelCountsCollisions(t *testing.T) {
	agg := New(nil, time.Now(), time.Second, nil)
	agg.registerLabel(metricmodel.EndpointLabel{Hash: 1, Name: "a"})
	agg.registerLabel(metricmodel.EndpointLabel{Hash: 1, Name: "b"})

	if agg.labelCollisions != 1 {
		t.Errorf("labelCollisions = %d, want 1", agg.labelCollisions)
	}
}

func TestSortedEndpointNamesIsStable(t *testing.T) {
	m := map[string]metricmodel.EndpointSnapshot{
		"b": {}, "a": {}, "c": {},
	}
	got := sortedEndpointNames(m)
	want := []string{"a", "b", "c"}
	for i, name := range want {
		if got[i] != name {
			t.Errorf("sortedEndpointNames()[%d] = %q, want %q", i, got[i], name)
		}
	}
}
