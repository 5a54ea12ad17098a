package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// RunLayout names every shared-memory file under one run's scratch
// directory, keyed by the run's ULID so concurrent runs never collide.
type RunLayout struct {
	Dir  string
	lock *flock.Flock
}

// NewRunLayout creates (and locks) a fresh directory for runID under base.
// The advisory lock file guards against two coordinator processes
// attaching the same run's shared-memory segments concurrently — a
// scenario that would otherwise corrupt the SPSC invariants silently.
func NewRunLayout(base, runID string) (*RunLayout, error) {
	dir := filepath.Join(base, runID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("shm: create run dir: %w", err)
	}
	lk := flock.New(filepath.Join(dir, ".lock"))
	locked, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("shm: lock run dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("shm: run directory %s is already in use", dir)
	}
	return &RunLayout{Dir: dir, lock: lk}, nil
}

// AttachRunLayout opens an existing run directory without re-acquiring the
// coordinator's lock — used by worker processes, which only attach files
// the coordinator already created.
func AttachRunLayout(base, runID string) *RunLayout {
	return &RunLayout{Dir: filepath.Join(base, runID)}
}

func (l *RunLayout) RingBufferPath(workerID uint8) string {
	return filepath.Join(l.Dir, fmt.Sprintf("ring-%d.shm", workerID))
}

func (l *RunLayout) CommandPath(workerID uint8) string {
	return filepath.Join(l.Dir, fmt.Sprintf("cmd-%d.shm", workerID))
}

func (l *RunLayout) LabelChannelPath() string {
	return filepath.Join(l.Dir, "labels.shm")
}

// Close releases the advisory lock and removes the run directory.
func (l *RunLayout) Close() error {
	if l.lock != nil {
		_ = l.lock.Unlock()
	}
	return os.RemoveAll(l.Dir)
}
