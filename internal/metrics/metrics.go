// Package metrics registers the Prometheus collectors the ingest core
// exposes: ring occupancy, dispatcher bulk-drain size, drop counts, and
// per-recorder max_frame_number. One struct holds every collector, built
// once at startup via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the ingest core registers.
type Metrics struct {
	RingOccupancy    *prometheus.GaugeVec
	DispatchDepth    prometheus.Gauge
	DroppedSymbols   *prometheus.CounterVec
	DroppedEnqueues  prometheus.Counter
	MaxFrameNumber   *prometheus.GaugeVec
	RecordedPackets  *prometheus.CounterVec
}

// New registers every collector against reg and returns the populated
// Metrics struct. Pass prometheus.NewRegistry() in tests to avoid
// colliding with the global default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RingOccupancy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sounder",
			Subsystem: "ring",
			Name:      "occupancy",
			Help:      "Number of ring slots currently owned by a recorder, per receive worker.",
		}, []string{"worker"}),
		DispatchDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sounder",
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Number of events the dispatcher drained in its most recent non-empty bulk dequeue; the queue's total backlog is not measured.",
		}),
		DroppedSymbols: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sounder",
			Subsystem: "dispatch",
			Name:      "dropped_symbols_total",
			Help:      "RxSymbol events dropped because the dispatch queue was full.",
		}, []string{"worker"}),
		DroppedEnqueues: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sounder",
			Subsystem: "dispatch",
			Name:      "dropped_enqueues_total",
			Help:      "Dispatch queue enqueue attempts that failed because the queue was full.",
		}),
		MaxFrameNumber: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sounder",
			Subsystem: "recorder",
			Name:      "max_frame_number",
			Help:      "Highest frame number recorded so far, per recorder.",
		}, []string{"recorder"}),
		RecordedPackets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sounder",
			Subsystem: "recorder",
			Name:      "recorded_packets_total",
			Help:      "Packets appended to the Trace Sink, per recorder.",
		}, []string{"recorder"}),
	}
}
