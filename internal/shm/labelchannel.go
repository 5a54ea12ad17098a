package shm

import (
	"encoding/binary"

	"github.com/torosent/loadforge/internal/metricmodel"
)

const (
	// LabelCapacity is the bounded FIFO size: new endpoint names are rare
	// after warmup, so 4096 in-flight registrations is plenty.
	LabelCapacity = 4096

	labelNameMax   = 30
	labelEntrySize = 8 + 1 + labelNameMax + 1 // hash + nameLen + name + method

	labelHeaderSize  = 16 // write cursor (8) + capacity (4) + reserved (4)
	labelRegionSize  = labelHeaderSize + LabelCapacity*labelEntrySize
	labelOffWriteIdx = 0
)

// LabelChannel is the multi-producer side: any worker process can register
// a newly-seen endpoint name concurrently with the others. Slot claims use
// an atomic fetch-and-add, so two workers never write the same slot.
type LabelChannel struct {
	reg *region
}

// CreateLabelChannel allocates the MPSC label-registration channel.
func CreateLabelChannel(path string) (*LabelChannel, error) {
	reg, err := createRegion(path, labelRegionSize)
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint64(reg.data[labelOffWriteIdx:], 0)
	return &LabelChannel{reg: reg}, nil
}

// AttachLabelChannel maps an existing label channel for producing or
// consuming; workers attach it read-write to publish, the aggregator
// attaches it to drain.
func AttachLabelChannel(path string) (*LabelChannel, error) {
	reg, err := attachRegion(path, labelRegionSize)
	if err != nil {
		return nil, err
	}
	return &LabelChannel{reg: reg}, nil
}

// Publish registers a label. Overflow (more labels in flight than
// LabelCapacity) silently overwrites the oldest unread registrations — the
// aggregator falls back to displaying the hash for anything lost.
func (lc *LabelChannel) Publish(label metricmodel.EndpointLabel) {
	idx := atomicAddUint64(lc.reg.data, labelOffWriteIdx, 1) - 1
	slot := idx % LabelCapacity
	off := labelHeaderSize + int(slot)*labelEntrySize
	buf := lc.reg.data[off : off+labelEntrySize]

	binary.BigEndian.PutUint64(buf[0:8], label.Hash)
	name := label.Name
	if len(name) > labelNameMax {
		name = name[:labelNameMax]
	}
	buf[8] = byte(len(name))
	copy(buf[9:9+labelNameMax], name)
	buf[9+labelNameMax] = uint8(label.Method)
}

// Close unmaps and closes the underlying file.
func (lc *LabelChannel) Close() error { return lc.reg.Close() }

// LabelConsumer drains a LabelChannel from the aggregator side, tracking its
// own read cursor and detecting overflow the same way RingConsumer does.
type LabelConsumer struct {
	ch        *LabelChannel
	readIndex uint64
}

// NewLabelConsumer wraps an attached LabelChannel for draining.
func NewLabelConsumer(ch *LabelChannel) *LabelConsumer {
	return &LabelConsumer{ch: ch}
}

// Drain returns every label published since the last Drain, skipping any
// that were overwritten before being read.
func (c *LabelConsumer) Drain() []metricmodel.EndpointLabel {
	writeIdx := atomicLoadUint64(c.ch.reg.data, labelOffWriteIdx)
	gap := writeIdx - c.readIndex
	if gap > LabelCapacity {
		c.readIndex = writeIdx - LabelCapacity
	}
	if c.readIndex >= writeIdx {
		return nil
	}
	out := make([]metricmodel.EndpointLabel, 0, writeIdx-c.readIndex)
	for i := c.readIndex; i < writeIdx; i++ {
		slot := i % LabelCapacity
		off := labelHeaderSize + int(slot)*labelEntrySize
		buf := c.ch.reg.data[off : off+labelEntrySize]
		nameLen := int(buf[8])
		if nameLen > labelNameMax {
			nameLen = labelNameMax
		}
		out = append(out, metricmodel.EndpointLabel{
			Hash:   binary.BigEndian.Uint64(buf[0:8]),
			Name:   string(buf[9 : 9+nameLen]),
			Method: metricmodel.MethodCode(buf[9+labelNameMax]),
		})
	}
	c.readIndex = writeIdx
	return out
}

func atomicAddUint64(data []byte, offset int, delta uint64) uint64 {
	return atomicAdd(data, offset, delta)
}
