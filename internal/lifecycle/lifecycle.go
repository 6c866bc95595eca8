// Package lifecycle boots the sounding pipelines in dependency order,
// runs until canceled, then drains and tears down symmetrically. The
// controller is the single owner of every pool and ring; workers hold
// only non-owning references downward.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/cwsl/sounder/internal/affinity"
	"github.com/cwsl/sounder/internal/dispatcher"
	"github.com/cwsl/sounder/internal/metrics"
	"github.com/cwsl/sounder/internal/phy"
	"github.com/cwsl/sounder/internal/receiver"
	"github.com/cwsl/sounder/internal/recorder"
	"github.com/cwsl/sounder/internal/schedule"
	"github.com/cwsl/sounder/internal/topology"
	"github.com/cwsl/sounder/internal/tracesink"
	"github.com/cwsl/sounder/internal/transceiver"
)

// Core layout when pinning is enabled: the dispatcher owns core 0, the
// recorder pool the next M cores, the receive pool the cores after that.
const mainDispatchCore = 0

// Options collects everything the controller needs to run one sounding
// session.
type Options struct {
	Phy      phy.Params
	Topology *topology.Topology
	Schedule *schedule.Schedule

	Transceiver transceiver.Transceiver
	Reader      receiver.SymbolReader
	SinkFor     func(worker int) (tracesink.Sink, error)
	Metrics     *metrics.Metrics

	// TaskThreads is M, the recorder worker count.
	TaskThreads int
	// RxWorkers overrides the automatic worker-count formula when > 0
	// (tests); otherwise receiver.WorkerCount decides.
	RxWorkers int
	// ClientThreads is counted against the core budget when deciding
	// whether to pin.
	ClientThreads int
	// RecorderQueueDepth overrides recorder.DefaultQueueDepth when > 0.
	RecorderQueueDepth int
	// DisablePinning forces the no-pinning path regardless of core
	// count (tests, containers).
	DisablePinning bool
}

// Controller owns the receive, dispatch, and record pipelines for one
// run.
type Controller struct {
	opts Options

	running  atomic.Bool
	mu       sync.Mutex
	cancel   context.CancelFunc
	stopped  bool
}

// New validates the options and returns a controller ready to Run.
func New(opts Options) (*Controller, error) {
	if opts.Transceiver == nil {
		return nil, fmt.Errorf("lifecycle: a transceiver is required")
	}
	if opts.SinkFor == nil {
		return nil, fmt.Errorf("lifecycle: a trace-sink factory is required")
	}
	if opts.TaskThreads <= 0 {
		return nil, fmt.Errorf("lifecycle: task thread count must be > 0, got %d", opts.TaskThreads)
	}
	return &Controller{opts: opts}, nil
}

// Running reports whether the controller's run loop is active. It is the
// process-wide running flag of the original design, scoped to the
// controller.
func (c *Controller) Running() bool { return c.running.Load() }

// Shutdown initiates cooperative cancellation: the dispatcher exits
// within one bulk-dequeue cycle, receive workers observe cancellation
// between captures, and Run drains and tears down. Calling Shutdown more
// than once is a no-op; calling it before Run makes that Run return nil
// at once without starting any pipeline.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	c.running.Store(false)
	if c.cancel != nil {
		c.cancel()
	}
}

// Run executes one full session: boot in dependency order, run until
// ctx is canceled or Shutdown is called, then tear down symmetrically.
// It returns nil on a clean drain.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()
	c.running.Store(true)
	defer c.running.Store(false)

	o := c.opts

	// Beam-sweep-only path: no uplink or pilot symbols means no receive
	// pipeline at all.
	if !o.Schedule.HasUplink() && !o.Schedule.HasPilot() {
		log.Printf("lifecycle: no uplink or pilot slots scheduled, running transmit-only beam sweep")
		return o.Transceiver.Go(ctx)
	}

	rxWorkers := o.RxWorkers
	cores := 0
	if rxWorkers <= 0 || !o.DisablePinning {
		dec, err := affinity.Decide(o.TaskThreads, receiver.DefaultRxThreadNum, o.ClientThreads)
		if err != nil {
			return fmt.Errorf("lifecycle: deciding core allocation: %w", err)
		}
		cores = dec.Cores
		if rxWorkers <= 0 {
			rxWorkers = receiver.WorkerCount(dec.Cores, o.Topology.TotalSDRs(), o.Topology.ReciprocalCalibration)
		}
	}

	pinning := !o.DisablePinning && cores >= 1+o.TaskThreads+rxWorkers+o.ClientThreads
	recorderBase, recvBase, dispatchCore := -1, -1, -1
	if pinning {
		dispatchCore = mainDispatchCore
		recorderBase = dispatchCore + 1
		recvBase = recorderBase + o.TaskThreads
	}

	// Construct Sample Buffer Ring + Dispatch Queue + Receiver. A
	// failure here leaves only garbage the runtime reclaims; it is
	// wrapped and rethrown with no worker started.
	recv, err := receiver.New(o.Phy, o.Topology, o.Schedule, o.Reader, o.Metrics, rxWorkers)
	if err != nil {
		return fmt.Errorf("lifecycle: constructing receiver: %w", err)
	}

	pool, err := recorder.NewPool(o.TaskThreads, o.Topology.TotalAntennas(), o.RecorderQueueDepth, o.SinkFor, o.Metrics, recorderBase)
	if err != nil {
		return fmt.Errorf("lifecycle: constructing recorder pool: %w", err)
	}

	disp, err := dispatcher.New(recv.Queue, recv.Rings, recv.Ranges, pool, o.Metrics, dispatchCore)
	if err != nil {
		return fmt.Errorf("lifecycle: constructing dispatcher: %w", err)
	}

	clientHandles, err := o.Transceiver.StartClientThreads(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: starting client threads: %w", err)
	}

	pool.Start()
	if err := recv.Start(ctx, o.Transceiver, recvBase); err != nil {
		// Symmetric teardown of what already runs.
		pool.Stop()
		pool.Join()
		return fmt.Errorf("lifecycle: %w", err)
	}

	runErr := disp.Run(ctx)

	// Shutdown order: cancellation already cleared the
	// running context; wait for receive workers, then stop and join the
	// recorders.
	cancel()
	recv.Complete(o.Transceiver)
	for _, h := range clientHandles {
		h.Wait()
	}
	pool.Stop()
	pool.Join()

	if max, ok := pool.MaxFrameNumber(); ok {
		log.Printf("lifecycle: drained, highest recorded frame %d", max)
	}
	return runErr
}
