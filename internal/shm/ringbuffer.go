package shm

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/torosent/loadforge/internal/metricmodel"
)

const (
	// SlotCount is N: the ring buffer holds 65536 slots.
	SlotCount = 65536
	// SlotSize is the fixed 32-byte wire record.
	SlotSize = 32
	// HeaderSize is the cache-line-aligned header preceding the slots.
	HeaderSize = 64

	RegionSize = HeaderSize + SlotCount*SlotSize

	offWriteIndex    = 0
	offHeartbeat     = 8
	offWorkerID      = 16
	offCapacity      = 20
	offDroppedCount  = 24
)

// slot field offsets within a 32-byte record.
const (
	slotTimestamp     = 0
	slotLatencyMs     = 8
	slotStatusCode    = 12
	slotContentLength = 14
	slotNameHash      = 18
	slotWorkerID      = 26
	slotErrorCategory = 27
	slotMethodCode    = 28
)

// RingBuffer is the producer-side handle a worker uses to publish
// RequestMetric records. Push never blocks: a full buffer is detected and
// resolved by the consumer, not the producer.
type RingBuffer struct {
	reg       *region
	workerID  uint8
	nextIndex uint64 // producer-private; never read by the consumer
}

// CreateRingBuffer allocates and maps a fresh ring-buffer region for the
// given worker, writing the fixed header fields once.
func CreateRingBuffer(path string, workerID uint8) (*RingBuffer, error) {
	reg, err := createRegion(path, RegionSize)
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint64(reg.data[offWriteIndex:], 0)
	reg.data[offWorkerID] = workerID
	binary.BigEndian.PutUint32(reg.data[offCapacity:], SlotCount)
	binary.BigEndian.PutUint64(reg.data[offDroppedCount:], 0)
	rb := &RingBuffer{reg: reg, workerID: workerID}
	rb.Heartbeat()
	return rb, nil
}

// Push writes m into the next slot and release-stores the new write index.
// It never blocks and never returns an error: a lagging consumer observes
// the overflow itself by the index gap.
func (rb *RingBuffer) Push(m metricmodel.RequestMetric) {
	slotIdx := rb.nextIndex % SlotCount
	off := HeaderSize + int(slotIdx)*SlotSize
	encodeSlot(rb.reg.data[off:off+SlotSize], m)
	rb.nextIndex++
	atomicStoreUint64(rb.reg.data, offWriteIndex, rb.nextIndex) // release-store
}

// Heartbeat stamps the current wall-clock seconds (see nowMonotonicSeconds)
// into the header,
// called by the worker's heartbeat-emitter task every 250ms.
func (rb *RingBuffer) Heartbeat() {
	atomicStoreUint64(rb.reg.data, offHeartbeat, math.Float64bits(nowMonotonicSeconds()))
}

// Close unmaps and closes the underlying file.
func (rb *RingBuffer) Close() error { return rb.reg.Close() }

// RingConsumer is the aggregator-side handle: it attaches to an existing
// ring-buffer file and maintains its own read index entirely in local
// memory, per the "consumer never writes write_index" invariant.
type RingConsumer struct {
	reg       *region
	readIndex uint64
	dropped   int64
}

// AttachRingConsumer maps an existing ring-buffer file for draining.
func AttachRingConsumer(path string) (*RingConsumer, error) {
	reg, err := attachRegion(path, RegionSize)
	if err != nil {
		return nil, err
	}
	return &RingConsumer{reg: reg}, nil
}

// Heartbeat returns the last wall-clock seconds timestamp the producer
// stamped, used by the coordinator to detect a stalled worker.
func (rc *RingConsumer) Heartbeat() float64 {
	return math.Float64frombits(atomicLoadUint64(rc.reg.data, offHeartbeat))
}

// WorkerID returns the worker id recorded at ring-buffer creation.
func (rc *RingConsumer) WorkerID() uint8 { return rc.reg.data[offWorkerID] }

// DroppedRecords returns the cumulative count of records lost to overflow
// since this consumer attached.
func (rc *RingConsumer) DroppedRecords() int64 { return rc.dropped }

// Drain reads every record the producer committed since the last Drain,
// handling overflow: if the producer has lapped the
// consumer, the gap beyond SlotCount is recorded as dropped and the read
// index jumps forward to the oldest still-valid slot.
func (rc *RingConsumer) Drain() []metricmodel.RequestMetric {
	writeIndex := atomicLoadUint64(rc.reg.data, offWriteIndex) // acquire-load
	gap := writeIndex - rc.readIndex
	if gap > SlotCount {
		lost := gap - SlotCount
		rc.dropped += int64(lost)
		rc.readIndex = writeIndex - SlotCount
	}
	if rc.readIndex >= writeIndex {
		return nil
	}
	out := make([]metricmodel.RequestMetric, 0, writeIndex-rc.readIndex)
	for i := rc.readIndex; i < writeIndex; i++ {
		slotIdx := i % SlotCount
		off := HeaderSize + int(slotIdx)*SlotSize
		out = append(out, decodeSlot(rc.reg.data[off:off+SlotSize]))
	}
	rc.readIndex = writeIndex
	return out
}

// Close unmaps and closes the underlying file.
func (rc *RingConsumer) Close() error { return rc.reg.Close() }

func encodeSlot(buf []byte, m metricmodel.RequestMetric) {
	if len(buf) < SlotSize {
		panic(fmt.Sprintf("shm: slot buffer too small: %d", len(buf)))
	}
	binary.BigEndian.PutUint64(buf[slotTimestamp:], math.Float64bits(m.Timestamp))
	binary.BigEndian.PutUint32(buf[slotLatencyMs:], math.Float32bits(m.LatencyMs))
	binary.BigEndian.PutUint16(buf[slotStatusCode:], m.StatusCode)
	binary.BigEndian.PutUint32(buf[slotContentLength:], m.ContentLength)
	binary.BigEndian.PutUint64(buf[slotNameHash:], m.NameHash)
	buf[slotWorkerID] = m.WorkerID
	buf[slotErrorCategory] = uint8(m.ErrorCategory)
	buf[slotMethodCode] = uint8(m.Method)
	buf[29] = 0
	buf[30] = 0
	buf[31] = 0
}

func decodeSlot(buf []byte) metricmodel.RequestMetric {
	return metricmodel.RequestMetric{
		Timestamp:     math.Float64frombits(binary.BigEndian.Uint64(buf[slotTimestamp:])),
		LatencyMs:     math.Float32frombits(binary.BigEndian.Uint32(buf[slotLatencyMs:])),
		StatusCode:    binary.BigEndian.Uint16(buf[slotStatusCode:]),
		ContentLength: binary.BigEndian.Uint32(buf[slotContentLength:]),
		NameHash:      binary.BigEndian.Uint64(buf[slotNameHash:]),
		WorkerID:      buf[slotWorkerID],
		ErrorCategory: metricmodel.ErrorCategory(buf[slotErrorCategory]),
		Method:        metricmodel.MethodCode(buf[slotMethodCode]),
	}
}

func atomicStoreUint64(data []byte, offset int, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&data[offset])), v)
}

func atomicLoadUint64(data []byte, offset int) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&data[offset])))
}

func atomicAdd(data []byte, offset int, delta uint64) uint64 {
	return atomic.AddUint64((*uint64)(unsafe.Pointer(&data[offset])), delta)
}
