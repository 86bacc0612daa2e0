package api

import "net/http"

type healthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	TrackedJobs int    `json:"tracked_jobs"`
}

// handleHealthz reports liveness. The history store is probed so a wedged
// database surfaces here before it surfaces as failed generations.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Service:     "mirage",
		TrackedJobs: s.registry.Len(),
	}
	if _, err := s.history.Stats(r.Context()); err != nil {
		s.logger.Error("healthz history probe", "error", err)
		resp.Status = "degraded"
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}
