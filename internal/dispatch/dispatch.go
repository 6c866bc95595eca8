// Package dispatch implements the bounded MPMC lock-free dispatch queue:
// the single channel carrying RxSymbol events from every receive worker
// to the dispatcher. The layout is Disruptor-style: sequence-numbered
// cells with cache-line padded cursors.
package dispatch

import (
	"fmt"
	"sync/atomic"
)

// DefaultQueueSizeMultiplier scales the queue to the rings it serves:
// the queue is sized ring_slots * DefaultQueueSizeMultiplier.
const DefaultQueueSizeMultiplier = 36

// DefaultDequeueBulkSize is how many events the dispatcher drains per
// iteration.
const DefaultDequeueBulkSize = 5

// RxSymbol is the fixed-size dispatch event, the only event type that
// flows through the queue.
type RxSymbol struct {
	AntennaID  uint32
	RingOffset uint64
}

// cachelinePad separates the hot cursors onto distinct cache lines,
// avoiding false sharing between producers and the consumer.
type cachelinePad [64 - 8]byte

type cell struct {
	sequence atomic.Uint64
	value    RxSymbol
}

// Queue is a bounded multi-producer/multi-consumer lock-free queue of
// RxSymbol events. Enqueue never blocks: a full queue returns false
// immediately so the caller can drop-and-warn.
type Queue struct {
	buffer []cell
	mask   uint64

	_          cachelinePad
	enqueuePos atomic.Uint64
	_          cachelinePad
	dequeuePos atomic.Uint64
}

// NewQueue allocates a Queue with capacity rounded up to the next power
// of two at or above size.
func NewQueue(size int) (*Queue, error) {
	if size <= 0 {
		return nil, fmt.Errorf("dispatch: queue size must be > 0, got %d", size)
	}
	capacity := nextPowerOfTwo(size)
	q := &Queue{
		buffer: make([]cell, capacity),
		mask:   uint64(capacity - 1),
	}
	for i := range q.buffer {
		q.buffer[i].sequence.Store(uint64(i))
	}
	return q, nil
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Capacity returns the queue's allocated capacity (a power of two, which
// may be larger than the size requested at construction).
func (q *Queue) Capacity() int { return len(q.buffer) }

// Enqueue attempts to push v onto the queue, returning false immediately
// if the queue is full; producers never block.
func (q *Queue) Enqueue(v RxSymbol) bool {
	pos := q.enqueuePos.Load()
	for {
		c := &q.buffer[pos&q.mask]
		seq := c.sequence.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if q.enqueuePos.CompareAndSwap(pos, pos+1) {
				c.value = v
				c.sequence.Store(pos + 1)
				return true
			}
			pos = q.enqueuePos.Load()
		case diff < 0:
			return false
		default:
			pos = q.enqueuePos.Load()
		}
	}
}

// Dequeue pops one event, returning ok=false if the queue is empty.
func (q *Queue) Dequeue() (RxSymbol, bool) {
	pos := q.dequeuePos.Load()
	for {
		c := &q.buffer[pos&q.mask]
		seq := c.sequence.Load()
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if q.dequeuePos.CompareAndSwap(pos, pos+1) {
				v := c.value
				c.sequence.Store(pos + q.mask + 1)
				return v, true
			}
			pos = q.dequeuePos.Load()
		case diff < 0:
			return RxSymbol{}, false
		default:
			pos = q.dequeuePos.Load()
		}
	}
}

// DequeueBulk drains up to len(dst) events into dst, returning the number
// dequeued. It stops as soon as the queue runs dry, amortizing dequeue
// contention across up to DefaultDequeueBulkSize events per call.
func (q *Queue) DequeueBulk(dst []RxSymbol) int {
	n := 0
	for n < len(dst) {
		v, ok := q.Dequeue()
		if !ok {
			break
		}
		dst[n] = v
		n++
	}
	return n
}
