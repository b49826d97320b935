package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/floodline/gaugewatch/internal/export"
	"github.com/floodline/gaugewatch/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type healthResponse struct {
	Status        string        `json:"status"`
	State         string        `json:"state"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	LastTick      *tickSummary  `json:"last_tick,omitempty"`
	Store         *store.Health `json:"store,omitempty"`
}

type tickSummary struct {
	Started    time.Time `json:"started"`
	DurationMS float64   `json:"duration_ms"`
	Cached     bool      `json:"cached"`
	Error      string    `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		State:         s.control.State().String(),
		UptimeSeconds: time.Since(s.started).Seconds(),
	}

	if res, ok := s.control.LastResult(); ok {
		summary := tickSummary{
			Started:    res.Started,
			DurationMS: float64(res.Duration.Milliseconds()),
			Cached:     res.Cached,
		}
		if res.Err != nil {
			summary.Error = res.Err.Error()
			resp.Status = "degraded"
		}
		resp.LastTick = &summary
	}

	if s.storeHealth != nil {
		h := s.storeHealth.Health()
		resp.Store = &h
		if h.BreakerState == "open" {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	res, ok := s.control.LastResult()
	if !ok || res.Snapshot == nil {
		msg := "no snapshot produced yet"
		if ok && res.Err != nil {
			msg = res.Err.Error()
		}
		writeError(w, http.StatusServiceUnavailable, msg)
		return
	}

	body := map[string]interface{}{
		"snapshot": res.Snapshot,
		"cached":   res.Cached,
		"started":  res.Started,
	}
	if res.Err != nil {
		body["last_error"] = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	res, ok := s.control.LastResult()
	if !ok || res.Snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot produced yet")
		return
	}

	snap := res.Snapshot
	body := map[string]interface{}{
		"trend":       snap.Trend,
		"velocity":    snap.Velocity,
		"computed_at": snap.ComputedAt,
		"points":      len(snap.Series),
	}
	if latest, ok := snap.Latest(); ok {
		body["latest"] = map[string]interface{}{
			"timestamp":     latest.Timestamp,
			"reading_value": latest.Value,
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSeriesCSV(w http.ResponseWriter, r *http.Request) {
	res, ok := s.control.LastResult()
	if !ok || res.Snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot produced yet")
		return
	}

	snap := res.Snapshot
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		`attachment; filename="`+export.Filename(snap.Key, snap.ComputedAt)+`"`)

	if err := export.WriteSnapshot(w, snap); err != nil {
		log.Warn().Err(err).Msg("CSV export failed mid-stream")
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	if force {
		s.control.ForceRefresh()
	} else {
		s.control.RequestRefresh()
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "refresh requested",
		"force":  force,
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.control.InvalidateCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cache cleared"})
}
