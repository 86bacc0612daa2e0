// workerstub serves the GPU worker HTTP contract with synthetic output so the
// orchestrator can run end to end without a GPU.
// Usage: go run ./cmd/workerstub
package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/calder/mirage/internal/synth"
)

// stubWorker fakes model loading and synthesis with configurable latency.
type stubWorker struct {
	warmDelay time.Duration
	genDelay  time.Duration
	logger    *slog.Logger
}

func (s *stubWorker) handleWarm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelVersion string `json:"model_version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	s.logger.Info("warming model", "model_version", req.ModelVersion)
	time.Sleep(s.warmDelay)
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (s *stubWorker) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var spec synth.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if spec.NumImages < 1 {
		spec.NumImages = 1
	}

	s.logger.Info("generating",
		"prompt", spec.Prompt,
		"size", spec.Width,
		"num_images", spec.NumImages,
	)
	time.Sleep(s.genDelay)

	images := make([]synth.Image, spec.NumImages)
	for i := range images {
		data, err := placeholderPNG(spec.Width, spec.Height, spec.Seed)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		images[i] = synth.Image{Data: data, Format: "png"}
	}

	writeJSON(w, http.StatusOK, map[string]any{"images": images})
}

// placeholderPNG renders a solid-color image of the requested size. The seed
// picks the color so seeded requests are reproducible.
func placeholderPNG(width, height int, seed *int64) ([]byte, error) {
	if width < 1 || width > 2048 {
		width = 512
	}
	if height < 1 || height > 2048 {
		height = 512
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if seed != nil {
		rng = rand.New(rand.NewSource(*seed))
	}
	fill := color.RGBA{
		R: uint8(rng.Intn(256)),
		G: uint8(rng.Intn(256)),
		B: uint8(rng.Intn(256)),
		A: 255,
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	addr := ":9090"
	if v := os.Getenv("MIRAGE_WORKERSTUB_ADDR"); v != "" {
		addr = v
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	stub := &stubWorker{
		warmDelay: 2 * time.Second,
		genDelay:  3 * time.Second,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/warm", stub.handleWarm)
	mux.HandleFunc("POST /v1/generate", stub.handleGenerate)

	logger.Info("workerstub: starting", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
