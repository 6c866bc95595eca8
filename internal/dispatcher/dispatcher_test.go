package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cwsl/sounder/internal/dispatch"
	"github.com/cwsl/sounder/internal/recorder"
	"github.com/cwsl/sounder/internal/ring"
	"github.com/cwsl/sounder/internal/tracesink"
	"github.com/cwsl/sounder/internal/transceiver"
)

type memSink struct {
	mu       sync.Mutex
	antennas []int
}

func (s *memSink) Append(cell, frame, slot, antenna int, iq []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.antennas = append(s.antennas, antenna)
	return nil
}
func (s *memSink) Flush() error { return nil }
func (s *memSink) Close() error { return nil }

func (s *memSink) seen() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.antennas...)
}

// 16 antennas routed across 4 recorders: recorder i sees exactly
// antennas [4i, 4i+4).
func TestRoutesAntennasToOwningRecorder(t *testing.T) {
	const antennas = 16
	const recorders = 4

	rg, err := ring.New(antennas, ring.PacketSize(8))
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	q, err := dispatch.NewQueue(64)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	sinks := make([]*memSink, recorders)
	pool, err := recorder.NewPool(recorders, antennas, 32, func(i int) (tracesink.Sink, error) {
		sinks[i] = &memSink{}
		return sinks[i], nil
	}, nil, -1)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	pool.Start()

	for ant := 0; ant < antennas; ant++ {
		if !rg.Claim(ant) {
			t.Fatalf("claim slot %d", ant)
		}
		buf, _ := rg.Slot(ant)
		ring.EncodeHeader(buf, ring.Header{FrameID: 1, SlotID: 0, AntennaID: uint32(ant)})
		off, _ := rg.OffsetOf(ant)
		if !q.Enqueue(dispatch.RxSymbol{AntennaID: uint32(ant), RingOffset: uint64(off)}) {
			t.Fatalf("enqueue antenna %d", ant)
		}
	}

	d, err := New(q, []*ring.Ring{rg}, []transceiver.AntennaRange{{Start: 0, End: antennas}}, pool, nil, -1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for rg.InUseCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for all events to drain, %d slots still in use", rg.InUseCount())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	pool.Stop()
	pool.Join()

	for i, s := range sinks {
		got := s.seen()
		if len(got) != 4 {
			t.Fatalf("recorder %d saw %d antennas, want 4", i, len(got))
		}
		for _, ant := range got {
			if ant < 4*i || ant >= 4*i+4 {
				t.Errorf("recorder %d saw antenna %d, want range [%d,%d)", i, ant, 4*i, 4*i+4)
			}
		}
	}
}

// A full recorder queue is fatal, not a retry.
func TestFullRecorderQueueIsFatal(t *testing.T) {
	rg, _ := ring.New(4, ring.PacketSize(4))
	q, _ := dispatch.NewQueue(8)
	pool, err := recorder.NewPool(1, 1, 1, func(int) (tracesink.Sink, error) { return &memSink{}, nil }, nil, -1)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	// Pool deliberately not started: its single-slot queue fills at once.

	for i := 0; i < 2; i++ {
		rg.Claim(i)
		off, _ := rg.OffsetOf(i)
		q.Enqueue(dispatch.RxSymbol{AntennaID: 0, RingOffset: uint64(off)})
	}

	d, err := New(q, []*ring.Ring{rg}, []transceiver.AntennaRange{{Start: 0, End: 1}}, pool, nil, -1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Run(context.Background()); err == nil {
		t.Errorf("expected fatal error when recorder queue is full")
	}
}

func TestUnownedAntennaIsFatal(t *testing.T) {
	rg, _ := ring.New(4, ring.PacketSize(4))
	q, _ := dispatch.NewQueue(8)
	pool, _ := recorder.NewPool(1, 1, 4, func(int) (tracesink.Sink, error) { return &memSink{}, nil }, nil, -1)

	q.Enqueue(dispatch.RxSymbol{AntennaID: 99, RingOffset: 0})
	d, err := New(q, []*ring.Ring{rg}, []transceiver.AntennaRange{{Start: 0, End: 1}}, pool, nil, -1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Run(context.Background()); err == nil {
		t.Errorf("expected fatal error for antenna with no owning worker")
	}
}

func TestNewRejectsMismatchedRingsAndRanges(t *testing.T) {
	q, _ := dispatch.NewQueue(8)
	rg, _ := ring.New(4, ring.PacketSize(4))
	if _, err := New(q, []*ring.Ring{rg}, nil, nil, nil, -1); err == nil {
		t.Errorf("expected error for mismatched rings/ranges lengths")
	}
}
