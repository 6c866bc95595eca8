// Package dispatcher implements the single routing thread between the
// receive and record pipelines: it drains the dispatch queue in bulk and
// forwards each RxSymbol event to the recorder worker owning its antenna.
package dispatcher

import (
	"context"
	"fmt"
	"runtime"

	"github.com/cwsl/sounder/internal/affinity"
	"github.com/cwsl/sounder/internal/dispatch"
	"github.com/cwsl/sounder/internal/metrics"
	"github.com/cwsl/sounder/internal/recorder"
	"github.com/cwsl/sounder/internal/ring"
	"github.com/cwsl/sounder/internal/transceiver"
)

// Dispatcher routes RxSymbol events to recorder input queues. It never
// blocks on an output queue: a failed enqueue is fatal, indicating a
// saturated recorder or a misconfiguration.
type Dispatcher struct {
	queue  *dispatch.Queue
	rings  []*ring.Ring
	ranges []transceiver.AntennaRange
	pool   *recorder.Pool
	met    *metrics.Metrics
	core   int
}

// New builds a Dispatcher over the receiver's rings/ranges and the
// recorder pool. core < 0 disables pinning.
func New(queue *dispatch.Queue, rings []*ring.Ring, ranges []transceiver.AntennaRange, pool *recorder.Pool, met *metrics.Metrics, core int) (*Dispatcher, error) {
	if len(rings) != len(ranges) {
		return nil, fmt.Errorf("dispatcher: rings (%d) and antenna ranges (%d) must have equal length", len(rings), len(ranges))
	}
	return &Dispatcher{queue: queue, rings: rings, ranges: ranges, pool: pool, met: met, core: core}, nil
}

func (d *Dispatcher) ringFor(antennaID int) *ring.Ring {
	for i, r := range d.ranges {
		if r.Contains(antennaID) {
			return d.rings[i]
		}
	}
	return nil
}

// Run executes the dispatch loop until ctx is canceled or a recorder
// enqueue fails. It returns nil on cooperative shutdown; the loop exits
// within one bulk-dequeue cycle of cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.core >= 0 {
		affinity.Pin(d.core)
		defer affinity.Unpin()
	}

	bulk := make([]dispatch.RxSymbol, dispatch.DefaultDequeueBulkSize)
	for ctx.Err() == nil {
		n := d.queue.DequeueBulk(bulk)
		if n == 0 {
			runtime.Gosched()
			continue
		}
		if d.met != nil {
			d.met.DispatchDepth.Set(float64(n))
		}
		for _, ev := range bulk[:n] {
			rg := d.ringFor(int(ev.AntennaID))
			if rg == nil {
				return fmt.Errorf("dispatcher: antenna %d has no owning receive worker", ev.AntennaID)
			}
			idx := d.pool.RecorderFor(int(ev.AntennaID))
			ok := d.pool.TryEnqueue(idx, recorder.Event{
				Kind:       recorder.KindRecord,
				RingOffset: int(ev.RingOffset),
				Ring:       rg,
			})
			if !ok {
				return fmt.Errorf("dispatcher: recorder %d queue full routing antenna %d", idx, ev.AntennaID)
			}
		}
	}
	return nil
}
