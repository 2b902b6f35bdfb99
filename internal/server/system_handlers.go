package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/driftwatch/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers serves health and resource usage endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	snapshotsDB *database.DB
}

// NewSystemHandlers creates new system handlers
func NewSystemHandlers(log zerolog.Logger, snapshotsDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		snapshotsDB: snapshotsDB,
	}
}

// HandleHealth reports process and database health.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "ok"

	if h.snapshotsDB != nil {
		if err := h.snapshotsDB.QuickCheck(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("Snapshot database ping failed")
			status = "degraded"
			dbStatus = err.Error()
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"database":  dbStatus,
		"timestamp": time.Now().UTC(),
	})
}

// HandleSystemHealth runs the deep database check, integrity scan
// included. Slower than HandleHealth, meant for the diagnostics page
// rather than load balancer polling.
func (h *SystemHandlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "ok"

	if h.snapshotsDB != nil {
		if err := h.snapshotsDB.HealthCheck(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("Snapshot database health check failed")
			status = "degraded"
			dbStatus = err.Error()
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"database":  dbStatus,
		"timestamp": time.Now().UTC(),
	})
}

// HandleStats returns CPU and memory usage.
func (h *SystemHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	cpuAvg, ramPercent := h.getSystemStats()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cpu_percent": cpuAvg,
		"ram_percent": ramPercent,
	})
}

// getSystemStats calculates CPU and RAM usage percentages.
// Uses a short sample interval so the API call does not block long.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
