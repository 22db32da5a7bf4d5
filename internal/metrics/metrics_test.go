package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordExecutionIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)

	m.RecordExecution("success", 0)
	m.RecordExecution("success", 0)
	m.RecordExecution("error", 0)

	got := counterValue(t, m.ExecutionsTotal.WithLabelValues("success"))
	if got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	got = counterValue(t, m.ExecutionsTotal.WithLabelValues("error"))
	if got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
}

func TestSetCacheOccupancyFraction(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)

	m.SetCacheOccupancy(25, 100)
	got := gaugeValue(t, m.CacheOccupancy)
	if got != 0.25 {
		t.Errorf("occupancy = %v, want 0.25", got)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetGauge().GetValue()
}
