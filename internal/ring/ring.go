// Package ring implements the Sample Buffer Ring: a fixed-size,
// structure-of-arrays circular buffer of packet slots, each guarded by an
// atomic in-use flag. A receive worker is the sole producer; at most one
// recorder worker is the sole consumer for any given slot.
package ring

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// HeaderSize is the fixed byte length of a packet header: frame id, slot
// id, cell id, antenna id, each a uint32.
const HeaderSize = 4 * 4

// Header is the fixed-layout record prefixed to every ring slot's payload.
type Header struct {
	FrameID   uint32
	SlotID    uint32
	CellID    uint32
	AntennaID uint32
}

// EncodeHeader writes h into the first HeaderSize bytes of dst.
func EncodeHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint32(dst[0:4], h.FrameID)
	binary.LittleEndian.PutUint32(dst[4:8], h.SlotID)
	binary.LittleEndian.PutUint32(dst[8:12], h.CellID)
	binary.LittleEndian.PutUint32(dst[12:16], h.AntennaID)
}

// DecodeHeader reads a Header from the first HeaderSize bytes of src.
func DecodeHeader(src []byte) Header {
	return Header{
		FrameID:   binary.LittleEndian.Uint32(src[0:4]),
		SlotID:    binary.LittleEndian.Uint32(src[4:8]),
		CellID:    binary.LittleEndian.Uint32(src[8:12]),
		AntennaID: binary.LittleEndian.Uint32(src[12:16]),
	}
}

// PacketSize returns the fixed size of one ring slot: header plus raw IQ
// payload (2 int16 per complex sample).
func PacketSize(sampsPerSymbol int) int {
	return HeaderSize + 2*sampsPerSymbol*2
}

// flagWordBits is the width of one machine-word run of in-use flags;
// grouping flags into words keeps occupancy scans cheap. atomic.Uint32
// is the word, matching the packed-uint32 style of this module's wire
// formats.
const flagWordBits = 32

// Ring is the Sample Buffer Ring for one receive worker: a contiguous
// byte buffer of fixed-size packet slots plus a parallel array of atomic
// in-use flags, one bit per slot.
type Ring struct {
	buf        []byte
	packetSize int
	numSlots   int
	flags      []atomic.Uint32
}

// New allocates a Ring with room for numSlots packets of packetSize bytes
// each.
func New(numSlots, packetSize int) (*Ring, error) {
	if numSlots <= 0 {
		return nil, fmt.Errorf("ring: numSlots must be > 0, got %d", numSlots)
	}
	if packetSize <= 0 {
		return nil, fmt.Errorf("ring: packetSize must be > 0, got %d", packetSize)
	}
	words := (numSlots + flagWordBits - 1) / flagWordBits
	return &Ring{
		buf:        make([]byte, numSlots*packetSize),
		packetSize: packetSize,
		numSlots:   numSlots,
		flags:      make([]atomic.Uint32, words),
	}, nil
}

// NumSlots returns the number of packet slots in the ring.
func (r *Ring) NumSlots() int { return r.numSlots }

// SlotSize returns the fixed byte size of one packet slot.
func (r *Ring) SlotSize() int { return r.packetSize }

// SlotAt returns the slot index covering byte offset off, for consumers
// handed a ring offset rather than a slot index.
func (r *Ring) SlotAt(off int) (int, error) {
	if off < 0 || off >= len(r.buf) || off%r.packetSize != 0 {
		return 0, fmt.Errorf("ring: byte offset %d is not a slot boundary", off)
	}
	return off / r.packetSize, nil
}

// OffsetOf returns the byte offset of packet index pktIdx within the
// ring's contiguous buffer.
func (r *Ring) OffsetOf(pktIdx int) (int, error) {
	if pktIdx < 0 || pktIdx >= r.numSlots {
		return 0, fmt.Errorf("ring: packet index %d out of range [0,%d)", pktIdx, r.numSlots)
	}
	return pktIdx * r.packetSize, nil
}

// Claim atomically transitions slot slotIdx from free (0) to owned (1)
// via compare-and-swap, returning false if the slot was already owned.
func (r *Ring) Claim(slotIdx int) bool {
	word, bit := r.locate(slotIdx)
	mask := uint32(1) << bit
	for {
		old := r.flags[word].Load()
		if old&mask != 0 {
			return false
		}
		if r.flags[word].CompareAndSwap(old, old|mask) {
			return true
		}
	}
}

// Release atomically transitions slot slotIdx from owned (1) back to
// free (0).
func (r *Ring) Release(slotIdx int) {
	word, bit := r.locate(slotIdx)
	mask := uint32(1) << bit
	for {
		old := r.flags[word].Load()
		if r.flags[word].CompareAndSwap(old, old&^mask) {
			return
		}
	}
}

// InUse reports whether slot slotIdx is currently owned. It is intended
// for tests and diagnostics, not the hot path.
func (r *Ring) InUse(slotIdx int) bool {
	word, bit := r.locate(slotIdx)
	return r.flags[word].Load()&(uint32(1)<<bit) != 0
}

// InUseCount returns the number of slots currently owned, for tests and
// shutdown verification (every flag must be clear after a drain).
func (r *Ring) InUseCount() int {
	n := 0
	for i := 0; i < r.numSlots; i++ {
		if r.InUse(i) {
			n++
		}
	}
	return n
}

func (r *Ring) locate(slotIdx int) (word, bit int) {
	return slotIdx / flagWordBits, slotIdx % flagWordBits
}

// Slot returns a byte slice view of packet slotIdx's storage within the
// ring's contiguous buffer. Callers must hold (or have just been granted)
// ownership of the slot via Claim before writing, and must not retain the
// slice past Release.
func (r *Ring) Slot(slotIdx int) ([]byte, error) {
	off, err := r.OffsetOf(slotIdx)
	if err != nil {
		return nil, err
	}
	return r.buf[off : off+r.packetSize], nil
}
