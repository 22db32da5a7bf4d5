// Package metrics holds the service's Prometheus collectors, health
// probes, and the in-memory recent-execution history exposed by the
// observability endpoints.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector exposed at /metrics.
type Metrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec

	ActiveSessions   prometheus.Gauge
	CacheOccupancy   prometheus.Gauge
	DatabaseConnOpen prometheus.Gauge

	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec

	startedAt time.Time
}

// New creates a Metrics instance and registers its collectors.
func New(version string) *Metrics {
	return NewWithRegistry(version, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance against a specific registry,
// letting tests use a private one instead of the global default.
func NewWithRegistry(version string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentctl_executions_total",
				Help: "Total number of /execute calls, by status",
			},
			[]string{"status"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentctl_execution_duration_seconds",
				Help:    "Execution duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentctl_errors_total",
				Help: "Total number of domain errors, by kind",
			},
			[]string{"kind"},
		),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentctl_active_sessions",
			Help: "Number of live in-memory thread cache entries",
		}),
		CacheOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentctl_thread_cache_occupancy",
			Help: "Current thread cache size relative to N_max",
		}),
		DatabaseConnOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentctl_database_connections_open",
			Help: "Current number of open database connections",
		}),
		ServiceUptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentctl_uptime_seconds",
			Help: "Service uptime in seconds",
		}),
		ServiceInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentctl_service_info",
			Help: "Static service build information",
		}, []string{"version"}),
		startedAt: time.Now(),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.ExecutionsTotal,
			m.ExecutionDuration,
			m.ErrorsTotal,
			m.ActiveSessions,
			m.CacheOccupancy,
			m.DatabaseConnOpen,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(version).Set(1)
	return m
}

// RecordExecution records one /execute call's terminal status and duration.
func (m *Metrics) RecordExecution(status string, d time.Duration) {
	m.ExecutionsTotal.WithLabelValues(status).Inc()
	m.ExecutionDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordError increments the error counter for the given apperr.Kind.
func (m *Metrics) RecordError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// SetActiveSessions reports the thread cache's live entry count.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

// SetCacheOccupancy reports live entries as a fraction of N_max.
func (m *Metrics) SetCacheOccupancy(live, nMax int) {
	if nMax <= 0 {
		m.CacheOccupancy.Set(0)
		return
	}
	m.CacheOccupancy.Set(float64(live) / float64(nMax))
}

// SetDatabaseConnections reports the pool's currently acquired connections.
func (m *Metrics) SetDatabaseConnections(n int) {
	m.DatabaseConnOpen.Set(float64(n))
}

// RefreshUptime recomputes the uptime gauge; called right before /metrics
// is scraped.
func (m *Metrics) RefreshUptime() {
	m.ServiceUptime.Set(time.Since(m.startedAt).Seconds())
}
