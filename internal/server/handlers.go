package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth reports liveness plus the readiness of every registered
// HealthChecker (broker reachability, document-store ping, analytical-
// store ping). A single failing dependency degrades the overall status to
// "degraded" without returning 5xx — callers decide how to act on the
// per-check detail.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			deps[c.Name()] = err.Error()
			status = "degraded"
		} else {
			deps[c.Name()] = "ok"
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       status,
		"environment":  s.cfg.Environment,
		"dependencies": deps,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}
