package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/nerrad567/x10-bridge/internal/bridges/x10"
)

// SystemMetrics represents the complete metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	MQTT          MQTTMetrics      `json:"mqtt"`
	Bridge        x10.BridgeStats  `json:"bridge"`
	MonitorPID    int              `json:"monitor_pid"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
	UnitsRecorded *int             `json:"units_recorded,omitempty"`
}

// HealthResponse is the bridge health document plus the result of each
// dependency check ("ok" or the error text).
type HealthResponse struct {
	x10.HealthMessage
	Checks map[string]string `json:"checks,omitempty"`
}

// healthCheckTimeout bounds all dependency checks of one request.
const healthCheckTimeout = 3 * time.Second

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleHealth returns the bridge health document. A failed dependency
// check downgrades a healthy bridge to degraded. Anything but healthy answers
// 503 so container health checks can use this endpoint directly.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{HealthMessage: s.bridge.Health()}

	if len(s.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		resp.Checks = make(map[string]string, len(names))
		for _, name := range names {
			if err := s.checks[name].HealthCheck(ctx); err != nil {
				resp.Checks[name] = err.Error()
				if resp.Status == x10.HealthHealthy {
					resp.Status = x10.HealthDegraded
					resp.Reason = name + " check failed"
				}
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != x10.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleMetrics returns runtime, bridge and database metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	health := s.bridge.Health()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		MQTT:       MQTTMetrics{Connected: health.MQTTConnected},
		Bridge:     s.bridge.Stats(),
		MonitorPID: health.MonitorPID,
	}

	if s.db != nil {
		st := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}

	if s.units != nil {
		n, err := s.units.UnitCount(r.Context())
		if err != nil {
			s.logger.Warn("counting recorded units failed", "error", err)
		} else {
			metrics.UnitsRecorded = &n
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
