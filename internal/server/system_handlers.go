package server

import (
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/modules/registry"
)

// StatusResponse is the body of /status
type StatusResponse struct {
	Status        string                   `json:"status"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	CPUPercent    float64                  `json:"cpu_percent"`
	MemoryPercent float64                  `json:"memory_percent"`
	HeapAllocMB   float64                  `json:"heap_alloc_mb"`
	Goroutines    int                      `json:"goroutines"`
	ModelsLoaded  map[domain.Strategy]bool `json:"models_loaded"`
}

// handleStatus returns process and host statistics
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := s.getSystemStats()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	loaded := map[domain.Strategy]bool{}
	if s.cfg.Models != nil {
		loaded = s.cfg.Models.Ready()
	}

	s.writeJSON(w, http.StatusOK, StatusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		HeapAllocMB:   float64(ms.HeapAlloc) / 1024 / 1024,
		Goroutines:    runtime.NumGoroutine(),
		ModelsLoaded:  loaded,
	})
}

// getSystemStats samples CPU over 100ms so the request does not block for long
func (s *Server) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// handleVersions lists registry versions for a strategy, newest first
// GET /api/versions?strategy=sortino
func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	strategy, ok := s.strategyParam(w, r)
	if !ok {
		return
	}
	if s.cfg.Registry == nil {
		s.writeError(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}

	versions, err := s.cfg.Registry.List(strategy)
	if err != nil {
		s.log.Error().Err(err).Str("strategy", string(strategy)).Msg("Failed to list versions")
		s.writeError(w, http.StatusInternalServerError, "failed to list versions")
		return
	}
	if versions == nil {
		versions = []domain.ModelVersion{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy": strategy,
		"versions": versions,
		"count":    len(versions),
	})
}

// handlePerformance summarises closed trades, optionally since a version
// GET /api/performance?strategy=sortino&since=3
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	strategy, ok := s.strategyParam(w, r)
	if !ok {
		return
	}
	if s.cfg.Registry == nil {
		s.writeError(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}

	var since *int
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "since must be a positive version number")
			return
		}
		since = &n
	}

	perf, err := s.cfg.Registry.Performance(strategy, since)
	if errors.Is(err, registry.ErrVersionNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("strategy", string(strategy)).Msg("Failed to compute performance")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy":      strategy,
		"since_version": since,
		"performance":   perf,
	})
}

func (s *Server) strategyParam(w http.ResponseWriter, r *http.Request) (domain.Strategy, bool) {
	raw := r.URL.Query().Get("strategy")
	if raw == "" {
		return s.cfg.DefaultStrategy, true
	}
	strategy, err := domain.ParseStrategy(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return strategy, true
}
