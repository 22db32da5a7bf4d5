package httpapi

import (
	"net/http"

	"github.com/agentctl/agentctl/internal/metrics"
)

// Health reports service and dependency status for GET /health,
// unauthenticated so load balancers can probe it freely.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var activeKeys int64
	if err := s.DB.QueryRow(ctx, "SELECT count(*) FROM api_keys WHERE is_active = true").Scan(&activeKeys); err != nil {
		activeKeys = 0
	}

	cacheLen := s.Cache.Len()
	report := metrics.CheckHealth(ctx, s.DB, s.Cfg.ObjectMountPath, activeKeys, cacheLen, s.Cfg.Cache.NMax)

	s.Metrics.SetActiveSessions(cacheLen)
	s.Metrics.SetCacheOccupancy(cacheLen, s.Cfg.Cache.NMax)
	s.Metrics.RefreshUptime()
	if stat := s.DB.Stat(); stat != nil {
		s.Metrics.SetDatabaseConnections(int(stat.AcquiredConns()))
	}

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// MetricsHistory serves the ring-buffer of recent executions for GET
// /metrics/history, independent of the Prometheus scrape endpoint.
func (s *Server) MetricsHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 50, 500)
	writeJSON(w, http.StatusOK, map[string]any{
		"records": s.History.Recent(limit),
	})
}

// CacheClear empties the thread cache in-memory only; sidecars already on
// disk are untouched beyond the dispose hook's normal rewrite on each
// evicted entry.
func (s *Server) CacheClear(w http.ResponseWriter, r *http.Request) {
	before := s.Cache.Len()
	s.Cache.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": before})
}
