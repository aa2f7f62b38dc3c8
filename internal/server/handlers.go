package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/reviewapps-dev/rdeploy/internal/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := version.Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  info.Version,
		"commit":   info.Commit,
		"uptime":   time.Since(s.startTime).Seconds(),
		"run_id":   s.runID,
		"finished": s.currentSummary() != nil,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum := s.currentSummary()
	if sum == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "running",
			"run_id": s.runID,
		})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
