package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/nightsync/internal/domain"
	"github.com/aristath/nightsync/internal/pipeline"
)

// handleTriggerRun starts a tuning run in the background.
// POST /api/runs
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.trigger.Running() {
		s.writeError(w, http.StatusConflict, "a tuning run is already in progress")
		return
	}

	// Runs outlive the request: the tuner alone can take minutes, so the
	// handler only kicks the run off and clients poll /api/runs.
	go func() {
		result, err := s.trigger.Run(context.Background())
		if err != nil {
			if !errors.Is(err, pipeline.ErrRunInProgress) {
				s.log.Error().Err(err).Msg("Manually triggered run failed to start")
			}
			return
		}
		s.log.Info().
			Str("run_id", result.RunID).
			Bool("completed", result.Completed).
			Msg("Manually triggered run finished")
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleListRuns returns recent runs, newest first.
// GET /api/runs?limit=N
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer up to 500")
			return
		}
		limit = parsed
	}

	records, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list runs")
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":    records,
		"running": s.trigger.Running(),
	})
}

// handleGetRun returns one run by ID.
// GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := s.history.Get(r.Context(), id)
	if err != nil {
		if domain.IsKind(err, domain.ErrKindNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.log.Error().Err(err).Str("run_id", id).Msg("Failed to load run")
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// handleHealth reports service liveness plus basic host stats.
// GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.log.Error().Err(err).Msg("History database unreachable")
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	cpuAvg, ramPct := systemStats()
	s.writeJSON(w, code, map[string]interface{}{
		"status":         status,
		"running":        s.trigger.Running(),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"cpu_percent":    cpuAvg,
		"ram_percent":    ramPct,
	})
}

// systemStats returns CPU and RAM usage percentages. A short sampling
// interval keeps the health endpoint fast.
func systemStats() (float64, float64) {
	cpuAvg := 0.0
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		return cpuAvg, 0
	}
	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
