package recorder

import (
	"sync"
	"testing"
	"time"

	"github.com/cwsl/sounder/internal/ring"
	"github.com/cwsl/sounder/internal/tracesink"
)

type appendRec struct {
	cell, frame, slot, antenna int
}

// memSink collects appends in memory; an optional per-append delay
// simulates a slow Trace Sink.
type memSink struct {
	mu      sync.Mutex
	appends []appendRec
	flushes int
	closes  int
	delay   time.Duration
}

func (s *memSink) Append(cell, frame, slot, antenna int, iq []byte) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends = append(s.appends, appendRec{cell, frame, slot, antenna})
	return nil
}

func (s *memSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appends)
}

func newTestPool(t *testing.T, workers, antennas, depth int) (*Pool, []*memSink) {
	t.Helper()
	sinks := make([]*memSink, workers)
	pool, err := NewPool(workers, antennas, depth, func(i int) (tracesink.Sink, error) {
		sinks[i] = &memSink{}
		return sinks[i], nil
	}, nil, -1)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return pool, sinks
}

// 4 recorders, 16 antennas: each recorder owns exactly antennas
// [4i, 4i+4).
func TestRecorderForSharding(t *testing.T) {
	pool, _ := newTestPool(t, 4, 16, 0)
	for ant := 0; ant < 16; ant++ {
		want := ant / 4
		if got := pool.RecorderFor(ant); got != want {
			t.Errorf("RecorderFor(%d) = %d, want %d", ant, got, want)
		}
	}
}

func makePacket(t *testing.T, rg *ring.Ring, slot int, h ring.Header) Event {
	t.Helper()
	if !rg.Claim(slot) {
		t.Fatalf("slot %d already claimed", slot)
	}
	buf, err := rg.Slot(slot)
	if err != nil {
		t.Fatalf("Slot(%d): %v", slot, err)
	}
	ring.EncodeHeader(buf, h)
	off, err := rg.OffsetOf(slot)
	if err != nil {
		t.Fatalf("OffsetOf(%d): %v", slot, err)
	}
	return Event{Kind: KindRecord, RingOffset: off, Ring: rg}
}

func TestRecordAppendsReleasesAndTracksMaxFrame(t *testing.T) {
	rg, err := ring.New(8, ring.PacketSize(16))
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	pool, sinks := newTestPool(t, 1, 4, 16)
	pool.Start()

	frames := []uint32{3, 1, 7, 2}
	for i, f := range frames {
		ev := makePacket(t, rg, i, ring.Header{FrameID: f, SlotID: uint32(i), CellID: 0, AntennaID: uint32(i)})
		if !pool.TryEnqueue(0, ev) {
			t.Fatalf("TryEnqueue event %d failed", i)
		}
	}
	pool.Stop()
	pool.Join()

	if got := sinks[0].count(); got != len(frames) {
		t.Fatalf("appends = %d, want %d", got, len(frames))
	}
	for i, rec := range sinks[0].appends {
		want := appendRec{cell: 0, frame: int(frames[i]), slot: i, antenna: i}
		if rec != want {
			t.Errorf("append %d = %+v, want %+v", i, rec, want)
		}
	}
	if n := rg.InUseCount(); n != 0 {
		t.Errorf("ring has %d slots still in use after drain", n)
	}
	max, ok := pool.MaxFrameNumber()
	if !ok || max != 7 {
		t.Errorf("MaxFrameNumber = %d,%v want 7,true", max, ok)
	}
	if sinks[0].flushes == 0 || sinks[0].closes != 1 {
		t.Errorf("sink flushes=%d closes=%d, want flushed and closed once", sinks[0].flushes, sinks[0].closes)
	}
}

// A recorder that sleeps per record must not lose events;
// the producer spins on Claim when the ring is full, and every ring flag
// is clear after shutdown.
func TestBackpressureNoEventLoss(t *testing.T) {
	const ringSlots = 8
	const total = 2 * ringSlots

	rg, err := ring.New(ringSlots, ring.PacketSize(16))
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}

	sink := &memSink{delay: 10 * time.Millisecond}
	pool, err := NewPool(1, 1, total, func(int) (tracesink.Sink, error) { return sink, nil }, nil, -1)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	pool.Start()

	for i := 0; i < total; i++ {
		slot := i % ringSlots
		// Backpressure: spin until the recorder releases the slot.
		for !rg.Claim(slot) {
			time.Sleep(time.Millisecond)
		}
		buf, err := rg.Slot(slot)
		if err != nil {
			t.Fatalf("Slot: %v", err)
		}
		ring.EncodeHeader(buf, ring.Header{FrameID: uint32(i), AntennaID: 0})
		off, _ := rg.OffsetOf(slot)
		for !pool.TryEnqueue(0, Event{Kind: KindRecord, RingOffset: off, Ring: rg}) {
			time.Sleep(time.Millisecond)
		}
	}
	pool.Stop()
	pool.Join()

	if got := sink.count(); got != total {
		t.Errorf("recorded %d events, want %d", got, total)
	}
	max, ok := pool.MaxFrameNumber()
	if !ok || max != total-1 {
		t.Errorf("MaxFrameNumber = %d,%v want %d,true", max, ok, total-1)
	}
	if n := rg.InUseCount(); n != 0 {
		t.Errorf("ring has %d slots still in use after shutdown", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	pool, sinks := newTestPool(t, 2, 4, 4)
	pool.Start()
	pool.Stop()
	pool.Stop()
	pool.Join()
	for i, s := range sinks {
		if s.closes != 1 {
			t.Errorf("sink %d closed %d times, want 1", i, s.closes)
		}
	}
}

func TestTryEnqueueFullQueueReturnsFalse(t *testing.T) {
	pool, _ := newTestPool(t, 1, 1, 1)
	// Pool not started: nothing drains the queue.
	rg, _ := ring.New(2, ring.PacketSize(4))
	ev := makePacket(t, rg, 0, ring.Header{})
	if !pool.TryEnqueue(0, ev) {
		t.Fatalf("first enqueue should succeed")
	}
	if pool.TryEnqueue(0, ev) {
		t.Errorf("enqueue on full queue should return false")
	}
	if pool.TryEnqueue(5, ev) {
		t.Errorf("enqueue to out-of-range recorder should return false")
	}
}

func TestNewPoolRejectsBadArguments(t *testing.T) {
	mk := func(int) (tracesink.Sink, error) { return &memSink{}, nil }
	if _, err := NewPool(0, 4, 0, mk, nil, -1); err == nil {
		t.Errorf("expected error for zero workers")
	}
	if _, err := NewPool(2, 0, 0, mk, nil, -1); err == nil {
		t.Errorf("expected error for zero antennas")
	}
}
