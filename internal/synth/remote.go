package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrMissingBaseURL indicates the worker client was configured without an endpoint.
var ErrMissingBaseURL = errors.New("synth: worker base url is required")

const defaultRequestTimeout = 10 * time.Minute

// WorkerOptions configures the remote synthesis worker client.
type WorkerOptions struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// Worker calls an external GPU worker over HTTP. The worker exposes
// POST /v1/warm to load a model and POST /v1/generate to synthesize images.
type Worker struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Compile-time interface satisfaction check.
var _ Synthesizer = (*Worker)(nil)

// NewWorker constructs a worker client with sane defaults.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Worker{
		baseURL:    baseURL,
		httpClient: httpClient,
		timeout:    timeout,
	}, nil
}

type warmRequest struct {
	ModelVersion string `json:"model_version"`
}

type generateResponse struct {
	Images []Image `json:"images"`
	Error  string  `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Warm asks the worker to load the model into device memory.
func (w *Worker) Warm(ctx context.Context, modelVersion string) error {
	var resp errorResponse
	if err := w.post(ctx, "/v1/warm", warmRequest{ModelVersion: modelVersion}, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("synth: warm %s: %s", modelVersion, resp.Error)
	}
	return nil
}

// Generate requests a batch of images from the worker.
func (w *Worker) Generate(ctx context.Context, spec Spec) ([]Image, error) {
	var resp generateResponse
	if err := w.post(ctx, "/v1/generate", spec, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("synth: generate: %s", resp.Error)
	}
	if len(resp.Images) == 0 {
		return nil, errors.New("synth: worker returned no images")
	}
	return resp.Images, nil
}

func (w *Worker) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("synth: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("synth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("synth: call worker: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 256<<20))
	if err != nil {
		return fmt.Errorf("synth: read response: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("synth: worker %s: %s", res.Status, apiErr.Error)
		}
		return fmt.Errorf("synth: worker returned %s", res.Status)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("synth: decode response: %w", err)
	}
	return nil
}
