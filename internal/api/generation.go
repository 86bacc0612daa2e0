package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/calder/mirage/internal/engine"
	"github.com/calder/mirage/internal/model"
	"github.com/calder/mirage/internal/registry"
)

const maxBodySize = 1 << 20 // 1 MB

// createGenerationResponse is the immediate reply to a submission; execution
// continues in the background.
type createGenerationResponse struct {
	GenerationID string `json:"generation_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

// resultPayload is the completed-generation block attached to status
// responses, sourced from the persisted record rather than in-memory state.
type resultPayload struct {
	ID             string                     `json:"id"`
	Prompt         string                     `json:"prompt"`
	ImageURLs      []string                   `json:"image_urls"`
	Parameters     model.GenerationParameters `json:"parameters"`
	ProcessingTime float64                    `json:"processing_time"`
}

// statusResponse is one status snapshot, for both the pull endpoint and the
// progress stream events.
type statusResponse struct {
	Status        string         `json:"status"`
	Progress      float64        `json:"progress"`
	Message       string         `json:"message"`
	EstimatedTime *int           `json:"estimated_time,omitempty"`
	Result        *resultPayload `json:"result,omitempty"`
}

func (s *Server) handleCreateGeneration(w http.ResponseWriter, r *http.Request) {
	var params model.GenerationParams
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	params.ApplyDefaults()
	if err := params.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := s.engine.Submit(userID(r), params)

	s.writeJSON(w, http.StatusAccepted, createGenerationResponse{
		GenerationID: id,
		Status:       model.StatusQueued,
		Message:      "Image generation started. Use the generation_id to check progress.",
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.registry.Get(id)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Generation ID not found")
		return
	}
	if err != nil {
		s.logger.Error("get generation status", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get generation status")
		return
	}

	s.writeJSON(w, http.StatusOK, s.statusPayload(r, job))
}

func (s *Server) handleCancelGeneration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	outcome, err := s.engine.Cancel(id)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Generation ID not found")
		return
	}
	if err != nil {
		s.logger.Error("cancel generation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel generation")
		return
	}

	message := "Generation cancelled"
	if outcome == engine.OutcomeAlreadyFinished {
		message = "Generation already completed or failed"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

func (s *Server) handleStreamProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.registry.Get(id)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Generation ID not found")
		return
	}
	if err != nil {
		s.logger.Error("get generation for stream", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get generation")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe before emitting the first snapshot. This is safe even if the
	// job finished between the Get above and this call — Subscribe on a
	// closed topic returns a closed channel and the loop exits after
	// re-reading the terminal state.
	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	activeStreams.Inc()
	defer activeStreams.Dec()

	emit := func(snap model.Job) bool {
		if err := writeSSEData(w, s.statusPayload(r, snap)); err != nil {
			return false // Write failed (e.g. client gone).
		}
		if canFlush {
			flusher.Flush()
		}
		return true
	}

	// Emit the current snapshot immediately; a job already terminal at
	// subscribe time gets exactly this one event.
	if !emit(job) || model.Terminal(job.Status) {
		return
	}
	latest := job

	// Heartbeat keeps the once-per-interval cadence alive between changes.
	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				// Execution finished or the job was removed. Deliver the
				// terminal snapshot if one exists, then stop.
				final, err := s.registry.Get(id)
				if err == nil && model.Terminal(final.Status) {
					emit(final)
				}
				return
			}
			// A heartbeat may have read fresher state from the registry
			// while this snapshot sat in the channel buffer. Skip it so
			// delivered progress never moves backwards; terminal snapshots
			// always go through (a failed job resets progress to zero).
			if !model.Terminal(snap.Status) && snap.Progress < latest.Progress {
				continue
			}
			if !emit(snap) {
				return
			}
			if model.Terminal(snap.Status) {
				return
			}
			latest = snap
		case <-ticker.C:
			// Re-read so a job dropped from the registry ends the stream
			// instead of replaying a stale snapshot.
			cur, err := s.registry.Get(id)
			if err != nil {
				return
			}
			latest = cur
			if !emit(latest) {
				return
			}
			if model.Terminal(latest.Status) {
				return
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// statusPayload builds the wire shape for one snapshot. For completed jobs
// the result block comes from the persisted history record.
func (s *Server) statusPayload(r *http.Request, job model.Job) statusResponse {
	resp := statusResponse{
		Status:        job.Status,
		Progress:      job.Progress,
		Message:       job.Message,
		EstimatedTime: job.EstimatedTime,
	}
	if job.Status != model.StatusCompleted {
		return resp
	}

	rec, err := s.history.GetByID(r.Context(), job.ID)
	if err != nil {
		// Fall back to the in-memory copy attached at completion.
		rec = job.Result
		if rec == nil {
			s.logger.Error("completed generation has no persisted record", "generation_id", job.ID, "error", err)
			return resp
		}
	}
	resp.Result = &resultPayload{
		ID:             rec.ID,
		Prompt:         rec.Prompt,
		ImageURLs:      rec.ImageURLs,
		Parameters:     rec.Parameters,
		ProcessingTime: rec.ProcessingTime,
	}
	return resp
}

// writeSSEData writes one snapshot as an SSE data event.
func writeSSEData(w http.ResponseWriter, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return nil
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	q := r.URL.Query().Get(key)
	if q == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(q)
	if err != nil {
		return defaultVal
	}
	return v
}
