// Package system serves process health and diagnostics endpoints.
package system

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/aristath/moneta/internal/database"
)

// Handler handles health and diagnostics requests
type Handler struct {
	db          *database.DB
	dataDir     string
	startupTime time.Time
	log         zerolog.Logger
}

// NewHandler creates a new system handler
func NewHandler(db *database.DB, dataDir string, log zerolog.Logger) *Handler {
	return &Handler{
		db:          db,
		dataDir:     dataDir,
		startupTime: time.Now(),
		log:         log.With().Str("handler", "system").Logger(),
	}
}

// RegisterRoutes mounts the authenticated system routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/diagnostics", h.HandleDiagnostics)
}

// HandleHealth is the unauthenticated liveness probe. It answers ok only when
// the database responds.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.Conn().PingContext(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("Health check DB ping failed")
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, map[string]string{"status": status})
}

// DiagnosticsResponse is the process and storage snapshot
type DiagnosticsResponse struct {
	UptimeSeconds  float64 `json:"uptime_seconds"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	ProcessRSSMB   float64 `json:"process_rss_mb"`
	GoroutineHint  int32   `json:"process_threads"`
	DataDirMB      float64 `json:"data_dir_mb"`
	DatabaseMB     float64 `json:"database_mb"`
	CheckedAt      string  `json:"checked_at"`
}

// HandleDiagnostics returns process resource usage and data-directory sizes
func (h *Handler) HandleDiagnostics(w http.ResponseWriter, r *http.Request) {
	resp := DiagnosticsResponse{
		UptimeSeconds: time.Since(h.startupTime).Seconds(),
		CheckedAt:     time.Now().Format(time.RFC3339),
	}

	// 100ms sample keeps the endpoint responsive for dashboards polling it
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		resp.CPUPercent = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		resp.MemUsedPercent = memStat.UsedPercent
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil {
			resp.ProcessRSSMB = float64(memInfo.RSS) / 1024 / 1024
		}
		if threads, err := proc.NumThreads(); err == nil {
			resp.GoroutineHint = threads
		}
	}

	resp.DataDirMB = dirSizeMB(h.dataDir)
	if info, err := os.Stat(filepath.Join(h.dataDir, "moneta.db")); err == nil {
		resp.DatabaseMB = float64(info.Size()) / 1024 / 1024
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": resp})
}

func dirSizeMB(dir string) float64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / 1024 / 1024
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
