package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// region is a memory-mapped file, mapped read-write on both sides: the
// producer side creates and sizes the file, the consumer side attaches to
// an already-sized file.
type region struct {
	file *os.File
	data []byte
}

// createRegion creates (or truncates) the file at path to exactly size
// bytes and maps it read-write. Only one process per run should hold the
// write mapping for a given ring buffer or command block.
func createRegion(path string, size int) (*region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: truncate %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	return &region{file: f, data: data}, nil
}

// attachRegion maps an existing file read-write (consumer side still needs
// write access to advance nothing shared — in practice the aggregator only
// reads, but mapping RDWR keeps a single code path and costs nothing since
// the OS page cache is shared).
func attachRegion(path string, size int) (*region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: attach %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	return &region{file: f, data: data}, nil
}

func (r *region) Close() error {
	if r == nil {
		return nil
	}
	var err error
	if r.data != nil {
		err = unix.Munmap(r.data)
	}
	if r.file != nil {
		if cerr := r.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
