package api

import (
	"net/http"

	"github.com/calder/mirage/internal/model"
)

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"models": model.Models})
}

func (s *Server) handleListStyles(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"styles": model.Styles})
}
