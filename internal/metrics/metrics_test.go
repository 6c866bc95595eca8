package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistersAllCollectorsWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RingOccupancy.WithLabelValues("worker0").Set(3)
	m.DispatchDepth.Set(7)
	m.DroppedSymbols.WithLabelValues("worker0").Inc()
	m.DroppedEnqueues.Inc()
	m.MaxFrameNumber.WithLabelValues("recorder0").Set(42)
	m.RecordedPackets.WithLabelValues("recorder0").Inc()

	got, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("gathered %d metric families, want 6", len(got))
	}
}

func TestRingOccupancyValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RingOccupancy.WithLabelValues("worker1").Set(5)

	var mf dto.Metric
	if err := m.RingOccupancy.WithLabelValues("worker1").Write(&mf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if mf.GetGauge().GetValue() != 5 {
		t.Errorf("value = %v, want 5", mf.GetGauge().GetValue())
	}
}
