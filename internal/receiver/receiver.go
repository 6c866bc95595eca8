// Package receiver implements the Receiver Pool: N capture workers, each
// owning a contiguous antenna range, a private Sample Buffer Ring, and a
// shared Dispatch Queue. Workers block on the radio transceiver for one
// captured symbol per owned antenna, claim a ring slot, write the packet,
// and publish an RxSymbol event.
package receiver

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strconv"
	"time"

	"github.com/cwsl/sounder/internal/dispatch"
	"github.com/cwsl/sounder/internal/metrics"
	"github.com/cwsl/sounder/internal/phy"
	"github.com/cwsl/sounder/internal/ring"
	"github.com/cwsl/sounder/internal/schedule"
	"github.com/cwsl/sounder/internal/topology"
	"github.com/cwsl/sounder/internal/transceiver"
)

// DefaultRxThreadNum is the receive-worker count before the core-count
// and SDR-count clamps are applied.
const DefaultRxThreadNum = 4

// DefaultSampleBufferFrameNum is how many frames' worth of packets each
// worker's ring holds.
const DefaultSampleBufferFrameNum = 80

// idleTailSleep is how long a worker sleeps per iteration when its
// antenna range lies entirely past the last real antenna; the benign
// tail sleeps rather than busy-waits.
const idleTailSleep = time.Millisecond

// WorkerCount picks the receive worker count: min(DefaultRxThreadNum,
// totalSDRs) when 2*DefaultRxThreadNum <= cores, else 1; forced to 2 in
// reciprocal calibration mode.
func WorkerCount(cores, totalSDRs int, reciprocal bool) int {
	if reciprocal {
		return 2
	}
	if 2*DefaultRxThreadNum > cores {
		return 1
	}
	n := DefaultRxThreadNum
	if totalSDRs < n {
		n = totalSDRs
	}
	if n < 1 {
		n = 1
	}
	return n
}

// SymbolReader is the radio-read suspension point of the capture loop:
// it blocks until one captured IQ payload for antennaID arrives or ctx
// is canceled. The default implementation is
// transceiver.UDPTransceiver.ReadSymbol.
type SymbolReader interface {
	ReadSymbol(ctx context.Context, antennaID int) (payload []byte, timestamp uint32, err error)
}

// Receiver owns the per-worker rings, the shared dispatch queue, and the
// antenna-range assignment of the receive pipeline.
type Receiver struct {
	Rings  []*ring.Ring
	Ranges []transceiver.AntennaRange
	Queue  *dispatch.Queue

	reader        SymbolReader
	sched         *schedule.Schedule
	topo          *topology.Topology
	met           *metrics.Metrics
	totalAntennas int
	packetSize    int

	handles []transceiver.Handle
}

// New sizes and allocates one ring per worker plus the shared dispatch
// queue. Worker w owns antennas [w*A, (w+1)*A) with A =
// ceil(totalAntennas/workers); the tail range past the last real antenna
// is benign. Any allocation failure frees nothing explicitly (the
// runtime reclaims partial state) but is reported wrapped so the
// lifecycle controller can rethrow it.
func New(p phy.Params, topo *topology.Topology, sched *schedule.Schedule, reader SymbolReader, met *metrics.Metrics, workers int) (*Receiver, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("receiver: worker count must be > 0, got %d", workers)
	}
	if sched.Len() == 0 {
		return nil, fmt.Errorf("receiver: schedule has no slots")
	}

	total := topo.TotalAntennas()
	if total <= 0 {
		return nil, fmt.Errorf("receiver: topology has no antennas")
	}
	perWorker := (total + workers - 1) / workers

	packetSize := ring.PacketSize(p.SampsPerSymbol)
	slots := DefaultSampleBufferFrameNum * sched.Len() * perWorker

	r := &Receiver{
		reader:        reader,
		sched:         sched,
		topo:          topo,
		met:           met,
		totalAntennas: total,
		packetSize:    packetSize,
	}

	for w := 0; w < workers; w++ {
		rg, err := ring.New(slots, packetSize)
		if err != nil {
			return nil, fmt.Errorf("receiver: allocating ring for worker %d: %w", w, err)
		}
		r.Rings = append(r.Rings, rg)
		r.Ranges = append(r.Ranges, transceiver.AntennaRange{Start: w * perWorker, End: (w + 1) * perWorker})
	}

	q, err := dispatch.NewQueue(slots * dispatch.DefaultQueueSizeMultiplier)
	if err != nil {
		return nil, fmt.Errorf("receiver: allocating dispatch queue: %w", err)
	}
	r.Queue = q
	return r, nil
}

// PacketSize returns the fixed ring-slot size the receiver writes.
func (r *Receiver) PacketSize() int { return r.packetSize }

// Capture is the per-worker capture loop (transceiver.CaptureFunc). It
// runs until ctx is canceled, blocking on the reader for one symbol per
// owned antenna per iteration.
func (r *Receiver) Capture(ctx context.Context, workerIdx int, antennas transceiver.AntennaRange, rg *ring.Ring) {
	label := strconv.Itoa(workerIdx)
	cursor := 0
	for ctx.Err() == nil {
		captured := false
		for ant := antennas.Start; ant < antennas.End; ant++ {
			if ctx.Err() != nil {
				return
			}
			if ant >= r.totalAntennas {
				break
			}
			captured = true

			payload, ts, err := r.reader.ReadSymbol(ctx, ant)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("receive worker %d: antenna %d read failed, symbol dropped: %v", workerIdx, ant, err)
				continue
			}

			slot := cursor
			cursor = (cursor + 1) % rg.NumSlots()

			// Backpressure: spin with a brief yield until the owning
			// recorder releases the slot.
			for !rg.Claim(slot) {
				if ctx.Err() != nil {
					return
				}
				runtime.Gosched()
			}

			if err := r.writePacket(rg, slot, ant, ts, payload); err != nil {
				log.Printf("receive worker %d: antenna %d packet dropped: %v", workerIdx, ant, err)
				rg.Release(slot)
				continue
			}

			off, err := rg.OffsetOf(slot)
			if err != nil {
				rg.Release(slot)
				continue
			}
			if !r.Queue.Enqueue(dispatch.RxSymbol{AntennaID: uint32(ant), RingOffset: uint64(off)}) {
				rg.Release(slot)
				log.Printf("receive worker %d: dispatch queue full, antenna %d symbol dropped", workerIdx, ant)
				if r.met != nil {
					r.met.DroppedSymbols.WithLabelValues(label).Inc()
					r.met.DroppedEnqueues.Inc()
				}
			}
		}

		if !captured {
			// Antenna range entirely past the last real antenna.
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleTailSleep):
			}
		}

		if r.met != nil {
			r.met.RingOccupancy.WithLabelValues(label).Set(float64(rg.InUseCount()))
		}
	}
}

// writePacket encodes the packet header and IQ payload into ring slot
// slot. The frame and slot ids derive from the capture timestamp's
// position within the slot grid; the cell id from the antenna's owning
// cell.
func (r *Receiver) writePacket(rg *ring.Ring, slot, antenna int, ts uint32, payload []byte) error {
	buf, err := rg.Slot(slot)
	if err != nil {
		return err
	}

	s := r.sched.Len()
	cell, _, err := r.topo.CellOfAntenna(antenna)
	if err != nil {
		return err
	}

	ring.EncodeHeader(buf, ring.Header{
		FrameID:   ts / uint32(s),
		SlotID:    ts % uint32(s),
		CellID:    uint32(cell),
		AntennaID: uint32(antenna),
	})

	iq := buf[ring.HeaderSize:]
	if len(payload) > len(iq) {
		return fmt.Errorf("receiver: payload %d bytes exceeds slot capacity %d", len(payload), len(iq))
	}
	n := copy(iq, payload)
	for i := n; i < len(iq); i++ {
		iq[i] = 0
	}
	return nil
}

// Start launches the receive workers through the transceiver capability
// (startRecvThreads). baseCore < 0 disables pinning.
func (r *Receiver) Start(ctx context.Context, t transceiver.Transceiver, baseCore int) error {
	handles, err := t.StartRecvThreads(ctx, r.Rings, r.Ranges, baseCore, r.Capture)
	if err != nil {
		return fmt.Errorf("receiver: starting receive workers: %w", err)
	}
	r.handles = handles
	return nil
}

// Complete joins every receive worker (completeRecvThreads).
func (r *Receiver) Complete(t transceiver.Transceiver) {
	t.CompleteRecvThreads(r.handles)
	r.handles = nil
}
