package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calder/mirage/internal/model"
	"github.com/calder/mirage/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type historyListResponse struct {
	Generations []*model.GenerationRecord `json:"generations"`
	Total       int                       `json:"total"`
	Limit       int                       `json:"limit"`
	Offset      int                       `json:"offset"`
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := parseIntQuery(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	records, total, err := s.history.List(r.Context(), userID(r), limit, offset)
	if err != nil {
		s.logger.Error("list generation history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list generation history")
		return
	}

	s.writeJSON(w, http.StatusOK, historyListResponse{
		Generations: records,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.history.Stats(r.Context())
	if err != nil {
		s.logger.Error("get history stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get history stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Favorite bool `json:"favorite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.history.SetFavorite(r.Context(), id, userID(r), req.Favorite)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Generation record not found")
		return
	}
	if err != nil {
		s.logger.Error("set favorite", "generation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update favorite")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "favorite": req.Favorite})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.history.Delete(r.Context(), id, userID(r))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Generation record not found")
		return
	}
	if err != nil {
		s.logger.Error("delete generation record", "generation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete generation record")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Generation deleted"})
}
