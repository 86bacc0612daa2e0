package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calder/mirage/internal/engine"
	"github.com/calder/mirage/internal/model"
	"github.com/calder/mirage/internal/pipeline"
	"github.com/calder/mirage/internal/registry"
	"github.com/calder/mirage/internal/storage"
	"github.com/calder/mirage/internal/store"
	"github.com/calder/mirage/internal/synth"
)

// fakeSynth is a configurable mock synthesizer for handler tests.
type fakeSynth struct {
	warmDelay time.Duration
	genDelay  time.Duration
	warmErr   error
	genErr    error
	genCalls  atomic.Int64
}

func (f *fakeSynth) Warm(ctx context.Context, modelVersion string) error {
	if f.warmDelay > 0 {
		select {
		case <-time.After(f.warmDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.warmErr
}

func (f *fakeSynth) Generate(ctx context.Context, spec synth.Spec) ([]synth.Image, error) {
	f.genCalls.Add(1)
	if f.genDelay > 0 {
		select {
		case <-time.After(f.genDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.genErr != nil {
		return nil, f.genErr
	}
	images := make([]synth.Image, spec.NumImages)
	for i := range images {
		images[i] = synth.Image{Data: []byte("png-bytes"), Format: "png"}
	}
	return images, nil
}

// newTestServer wires the full stack against an in-memory database, a temp
// artifact directory, and the given synthesizer.
func newTestServer(t *testing.T, s synth.Synthesizer) *Server {
	t.Helper()
	return newTestServerWithInterval(t, s, 20*time.Millisecond)
}

func newTestServerWithInterval(t *testing.T, s synth.Synthesizer, streamInterval time.Duration) *Server {
	t.Helper()

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	artifacts, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	cache, err := pipeline.NewCache(pipeline.LoaderFunc(func(ctx context.Context, key string) error {
		return s.Warm(ctx, key)
	}), 0)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	reg := registry.New()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewEngine(reg, cache, s, artifacts, db, logger, 0)

	return NewServer(":0", reg, eng, db, "", streamInterval, logger)
}

// waitForStatus polls the registry until the job reaches the wanted status.
func waitForStatus(t *testing.T, reg *registry.Registry, id, want string, timeout time.Duration) model.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := reg.Get(id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %q within %v", id, want, timeout)
	return model.Job{}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t, &fakeSynth{})
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t, &fakeSynth{})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/v1/models", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /v1/models: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeSynth{})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Service != "mirage" {
		t.Errorf("body = %+v, want status ok service mirage", body)
	}
}

func TestHealthzDegradedWhenStoreUnavailable(t *testing.T) {
	srv := newTestServer(t, &fakeSynth{})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// A closed database fails the history probe.
	srv.history.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
}
