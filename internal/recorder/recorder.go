// Package recorder implements the Recorder Pool: M workers, each owning
// a contiguous antenna shard and a bounded input queue, draining Record
// events into the Trace Sink. The dispatcher is the single producer for
// every worker's queue, so each queue is SPSC in practice.
package recorder

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cwsl/sounder/internal/affinity"
	"github.com/cwsl/sounder/internal/metrics"
	"github.com/cwsl/sounder/internal/ring"
	"github.com/cwsl/sounder/internal/tracesink"
)

// EventKind discriminates the two record-queue event types.
type EventKind uint8

const (
	// KindRecord carries one captured packet's ring location.
	KindRecord EventKind = iota
	// KindStop tells the worker to flush and close its Trace Sink and
	// exit.
	KindStop
)

// Event is one entry on a recorder worker's input queue. Ring stands in
// for the original ring_base/ring_size pair: the offset is resolved
// against the ring the packet was captured into.
type Event struct {
	Kind       EventKind
	RingOffset int
	Ring       *ring.Ring
}

// DefaultQueueDepth bounds each worker's input queue. The dispatcher
// treats a full queue as fatal, so the depth only needs to absorb
// scheduling jitter, not sustained imbalance.
const DefaultQueueDepth = 512

type worker struct {
	idx      int
	shard    [2]int // half-open antenna range, diagnostics only
	in       chan Event
	sink     tracesink.Sink
	core     int
	maxFrame atomic.Uint64
	hasFrame atomic.Bool
}

// Pool is the Recorder Pool.
type Pool struct {
	workers          []*worker
	antennasPerShard int
	met              *metrics.Metrics

	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
}

// NewPool builds a pool of n workers sharding totalAntennas between them
// (worker i owns [i*A, (i+1)*A) with A = ceil(totalAntennas/n)). sinkFor
// is called once per worker so each recorder holds its own lazily-opened
// Trace Sink handle. baseCore < 0 disables core pinning; otherwise worker
// i pins to baseCore+i. met may be nil.
func NewPool(n, totalAntennas, queueDepth int, sinkFor func(worker int) (tracesink.Sink, error), met *metrics.Metrics, baseCore int) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("recorder: worker count must be > 0, got %d", n)
	}
	if totalAntennas <= 0 {
		return nil, fmt.Errorf("recorder: total antennas must be > 0, got %d", totalAntennas)
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}

	shard := (totalAntennas + n - 1) / n
	p := &Pool{antennasPerShard: shard, met: met}
	for i := 0; i < n; i++ {
		sink, err := sinkFor(i)
		if err != nil {
			return nil, fmt.Errorf("recorder: building sink for worker %d: %w", i, err)
		}
		core := -1
		if baseCore >= 0 {
			core = baseCore + i
		}
		p.workers = append(p.workers, &worker{
			idx:   i,
			shard: [2]int{i * shard, (i + 1) * shard},
			in:    make(chan Event, queueDepth),
			sink:  sink,
			core:  core,
		})
	}
	return p, nil
}

// Workers returns the number of recorder workers.
func (p *Pool) Workers() int { return len(p.workers) }

// AntennasPerShard returns A_r, the shard width used to route antennas to
// workers.
func (p *Pool) AntennasPerShard() int { return p.antennasPerShard }

// RecorderFor returns the index of the worker owning antennaID.
func (p *Pool) RecorderFor(antennaID int) int {
	idx := antennaID / p.antennasPerShard
	if idx >= len(p.workers) {
		idx = len(p.workers) - 1
	}
	return idx
}

// Start spawns every worker goroutine.
func (p *Pool) Start() {
	if p.started {
		return
	}
	p.started = true
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *worker) {
			defer p.wg.Done()
			p.run(w)
		}(w)
	}
}

// TryEnqueue attempts a non-blocking push of ev onto worker recorderIdx's
// input queue. The caller (the dispatcher) treats false as fatal.
func (p *Pool) TryEnqueue(recorderIdx int, ev Event) bool {
	if recorderIdx < 0 || recorderIdx >= len(p.workers) {
		return false
	}
	select {
	case p.workers[recorderIdx].in <- ev:
		return true
	default:
		return false
	}
}

// Stop sends one KindStop to every worker. Calling Stop more than once
// is a no-op.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		for _, w := range p.workers {
			w.in <- Event{Kind: KindStop}
		}
	})
}

// Join blocks until every worker has processed its KindStop and exited.
func (p *Pool) Join() {
	p.wg.Wait()
}

// MaxFrameNumber returns the highest frame number recorded by any worker,
// and whether any frame has been recorded at all.
func (p *Pool) MaxFrameNumber() (uint64, bool) {
	var max uint64
	any := false
	for _, w := range p.workers {
		if w.hasFrame.Load() {
			any = true
			if v := w.maxFrame.Load(); v > max {
				max = v
			}
		}
	}
	return max, any
}

func (p *Pool) run(w *worker) {
	if w.core >= 0 {
		affinity.Pin(w.core)
		defer affinity.Unpin()
	}
	label := strconv.Itoa(w.idx)
	for ev := range w.in {
		switch ev.Kind {
		case KindRecord:
			p.record(w, label, ev)
		case KindStop:
			if err := w.sink.Flush(); err != nil {
				log.Printf("recorder %d: flush on stop: %v", w.idx, err)
			}
			if err := w.sink.Close(); err != nil {
				log.Printf("recorder %d: close on stop: %v", w.idx, err)
			}
			return
		}
	}
}

func (p *Pool) record(w *worker, label string, ev Event) {
	slot, err := ev.Ring.SlotAt(ev.RingOffset)
	if err != nil {
		log.Printf("recorder %d: dropping event with bad ring offset: %v", w.idx, err)
		return
	}
	buf, err := ev.Ring.Slot(slot)
	if err != nil {
		log.Printf("recorder %d: dropping event: %v", w.idx, err)
		return
	}

	h := ring.DecodeHeader(buf)
	payload := buf[ring.HeaderSize:]
	if err := w.sink.Append(int(h.CellID), int(h.FrameID), int(h.SlotID), int(h.AntennaID), payload); err != nil {
		log.Printf("recorder %d: append cell=%d frame=%d slot=%d antenna=%d: %v",
			w.idx, h.CellID, h.FrameID, h.SlotID, h.AntennaID, err)
	}
	ev.Ring.Release(slot)

	// Monotonic atomic max over the worker's recorded frame numbers.
	frame := uint64(h.FrameID)
	w.hasFrame.Store(true)
	for {
		cur := w.maxFrame.Load()
		if frame <= cur {
			break
		}
		if w.maxFrame.CompareAndSwap(cur, frame) {
			break
		}
	}

	if p.met != nil {
		p.met.RecordedPackets.WithLabelValues(label).Inc()
		p.met.MaxFrameNumber.WithLabelValues(label).Set(float64(w.maxFrame.Load()))
	}
}
