package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/calder/mirage/internal/engine"
	"github.com/calder/mirage/internal/model"
	"github.com/calder/mirage/internal/registry"
)

func submitGeneration(t *testing.T, ts *httptest.Server, body string) createGenerationResponse {
	t.Helper()

	resp, err := http.Post(ts.URL+"/v1/generations", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/generations: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var created createGenerationResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return created
}

func getStatus(t *testing.T, ts *httptest.Server, id string) (int, statusResponse) {
	t.Helper()

	resp, err := http.Get(ts.URL + "/v1/generations/" + id + "/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()

	var sr statusResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			t.Fatalf("decode status: %v", err)
		}
	}
	return resp.StatusCode, sr
}

func TestCreateGenerationLifecycle(t *testing.T) {
	srv := newTestServer(t, &fakeSynth{genDelay: 30 * time.Millisecond})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	created := submitGeneration(t, ts, `{"prompt": "a lighthouse at dusk", "num_images": 2}`)
	if created.GenerationID == "" {
		t.Fatal("empty generation_id")
	}
	if created.Status != model.StatusQueued {
		t.Errorf("status = %q, want %q", created.Status, model.StatusQueued)
	}

	waitForStatus(t, srv.registry, created.GenerationID, model.StatusCompleted, 2*time.Second)

	code, sr := getStatus(t, ts, created.GenerationID)
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
	if sr.Status != model.StatusCompleted || sr.Progress != 100 {
		t.Errorf("got %q/%v, want completed/100", sr.Status, sr.Progress)
	}
	if sr.Result == nil {
		t.Fatal("completed status has no result")
	}
	if sr.Result.Prompt != "a lighthouse at dusk" {
		t.Errorf("result prompt = %q", sr.Result.Prompt)
	}
	if len(sr.Result.ImageURLs) != 2 {
		t.Errorf("got %d image urls, want 2", len(sr.Result.ImageURLs))
	}
}

func TestCreateGenerationValidation(t *testing.T) {
	srv := newTestServer(t, &fakeSynth{})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
	}{
		{"empty prompt", `{"prompt": ""}`},
		{"bad json", `{"prompt": `},
		{"steps out of range", `{"prompt": "ok", "steps": 500}`},
		{"unknown style", `{"prompt": "ok", "style": "vaporwave-deluxe"}`},
		{"too many images", `{"prompt": "ok", "num_images": 9}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/v1/generations", "application/json", bytes.NewReader([]byte(tt.body)))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	// No job was registered for any rejected request.
	if n := srv.registry.Len(); n != 0 {
		t.Errorf("registry holds %d jobs, want 0", n)
	}
}

func TestGetStatusNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeSynth{})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	code, _ := getStatus(t, ts, "not-a-real-id")
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestCancelGeneration(t *testing.T) {
	srv := newTestServer(t, &fakeSynth{genDelay: 500 * time.Millisecond})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	created := submitGeneration(t, ts, `{"prompt": "a slow render"}`)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/generations/"+created.GenerationID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] != "Generation cancelled" {
		t.Errorf("message = %q", body["message"])
	}

	_, sr := getStatus(t, ts, created.GenerationID)
	if sr.Status != model.StatusFailed {
		t.Errorf("status = %q, want %q", sr.Status, model.StatusFailed)
	}
	if sr.Message != engine.CancelMessage {
		t.Errorf("message = %q, want %q", sr.Message, engine.CancelMessage)
	}

	// A second cancel acknowledges the job already finished.
	req2, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/generations/"+created.GenerationID, nil)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("second DELETE: %v", err)
	}
	defer resp2.Body.Close()

	var body2 map[string]string
	if err := json.NewDecoder(resp2.Body).Decode(&body2); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body2["message"] != "Generation already completed or failed" {
		t.Errorf("second message = %q", body2["message"])
	}
}

func TestCancelGenerationNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeSynth{})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/generations/nonexistent", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// readSSEEvents collects decoded snapshots from an SSE body until it closes.
func readSSEEvents(t *testing.T, body *bufio.Scanner) []statusResponse {
	t.Helper()
	var events []statusResponse
	for body.Scan() {
		line := body.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var sr statusResponse
		if err := json.Unmarshal([]byte(data), &sr); err != nil {
			t.Fatalf("unmarshal event %q: %v", data, err)
		}
		events = append(events, sr)
	}
	return events
}

func TestStreamProgressCompletedJob(t *testing.T) {
	srv := newTestServer(t, &fakeSynth{})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	created := submitGeneration(t, ts, `{"prompt": "a quick sketch"}`)
	waitForStatus(t, srv.registry, created.GenerationID, model.StatusCompleted, 2*time.Second)

	resp, err := http.Get(ts.URL + "/v1/generations/" + created.GenerationID + "/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// An already finished job yields exactly one event before the stream ends.
	events := readSSEEvents(t, bufio.NewScanner(resp.Body))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %v", len(events), events)
	}
	if events[0].Status != model.StatusCompleted || events[0].Progress != 100 {
		t.Errorf("event = %q/%v, want completed/100", events[0].Status, events[0].Progress)
	}
	if events[0].Result == nil {
		t.Error("terminal event has no result")
	}
}

func TestStreamProgressLiveJob(t *testing.T) {
	srv := newTestServer(t, &fakeSynth{warmDelay: 30 * time.Millisecond, genDelay: 60 * time.Millisecond})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	created := submitGeneration(t, ts, `{"prompt": "a live render"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/generations/"+created.GenerationID+"/stream", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	events := readSSEEvents(t, bufio.NewScanner(resp.Body))
	if len(events) == 0 {
		t.Fatal("no events received")
	}

	// Progress never moves backwards across the stream.
	prev := -1.0
	for _, ev := range events {
		if ev.Progress < prev {
			t.Fatalf("progress went backwards: %v", events)
		}
		prev = ev.Progress
	}

	last := events[len(events)-1]
	if last.Status != model.StatusCompleted || last.Progress != 100 {
		t.Errorf("final event = %q/%v, want completed/100", last.Status, last.Progress)
	}
}

func TestStreamProgressMonotonicUnderContention(t *testing.T) {
	// A very short heartbeat makes the handler re-read the registry while
	// older snapshots are still buffered in the broker channel; delivered
	// progress must not move backwards regardless of interleaving.
	srv := newTestServerWithInterval(t, &fakeSynth{}, time.Millisecond)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := srv.registry.Create("user-1", model.StatusQueued, 0, "Request queued for processing", nil)

	go func() {
		processing := model.StatusProcessing
		for p := 1.0; p < 100; p++ {
			srv.registry.Update(id, registry.Patch{Status: &processing, Progress: &p})
			time.Sleep(100 * time.Microsecond)
		}
		completed := model.StatusCompleted
		hundred := 100.0
		msg := "done"
		srv.registry.Update(id, registry.Patch{Status: &completed, Progress: &hundred, Message: &msg})
		srv.engine.Broker().Close(id)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/generations/"+id+"/stream", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	events := readSSEEvents(t, bufio.NewScanner(resp.Body))
	if len(events) == 0 {
		t.Fatal("no events received")
	}

	prev := -1.0
	for i, ev := range events {
		if ev.Progress < prev {
			t.Fatalf("progress regressed for one observer: %v after %v (event %d of %d)", ev.Progress, prev, i, len(events))
		}
		prev = ev.Progress
	}
	if last := events[len(events)-1]; last.Status != model.StatusCompleted || last.Progress != 100 {
		t.Errorf("final event = %q/%v, want completed/100", last.Status, last.Progress)
	}
}

func TestStreamProgressNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeSynth{})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/generations/nonexistent/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatusAfterFailure(t *testing.T) {
	srv := newTestServer(t, &fakeSynth{genErr: errors.New("worker exploded")})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	created := submitGeneration(t, ts, `{"prompt": "doomed"}`)
	waitForStatus(t, srv.registry, created.GenerationID, model.StatusFailed, 2*time.Second)

	code, sr := getStatus(t, ts, created.GenerationID)
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
	if sr.Status != model.StatusFailed {
		t.Errorf("status = %q, want failed", sr.Status)
	}
	if sr.Progress != 0 {
		t.Errorf("progress = %v, want 0", sr.Progress)
	}
	if sr.Result != nil {
		t.Error("failed generation carries a result")
	}
}
