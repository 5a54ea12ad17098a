package shm

const (
	commandRegionSize = 8
	stopBit           = uint64(1) << 32
)

// CommandBlock carries the coordinator's latest scale/stop command to one
// worker. It is single-writer (coordinator), single-reader (worker), and
// needs no seqlock: target and stop are packed into one 64-bit word so a
// single atomic store/load always observes a consistent pair. The
// coordinator rebroadcasts a new command on every scheduler tick.
type CommandBlock struct {
	reg *region
}

// CreateCommandBlock allocates a command block for one worker.
func CreateCommandBlock(path string) (*CommandBlock, error) {
	reg, err := createRegion(path, commandRegionSize)
	if err != nil {
		return nil, err
	}
	return &CommandBlock{reg: reg}, nil
}

// AttachCommandBlock maps an existing command block for reading.
func AttachCommandBlock(path string) (*CommandBlock, error) {
	reg, err := attachRegion(path, commandRegionSize)
	if err != nil {
		return nil, err
	}
	return &CommandBlock{reg: reg}, nil
}

// SetTarget publishes a new concurrency share for this worker.
func (cb *CommandBlock) SetTarget(target uint32) {
	atomicStoreUint64(cb.reg.data, 0, uint64(target))
}

// SetStop publishes the stop command; target is ignored once set.
func (cb *CommandBlock) SetStop() {
	atomicStoreUint64(cb.reg.data, 0, stopBit)
}

// Read returns the current target share and whether stop has been
// requested.
func (cb *CommandBlock) Read() (target uint32, stop bool) {
	word := atomicLoadUint64(cb.reg.data, 0)
	if word&stopBit != 0 {
		return 0, true
	}
	return uint32(word), false
}

// Close unmaps and closes the underlying file.
func (cb *CommandBlock) Close() error { return cb.reg.Close() }
