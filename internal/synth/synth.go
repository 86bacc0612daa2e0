// Package synth defines the contract with the image synthesis worker. The
// synthesis routine itself is an opaque, long-running compute call; the
// orchestrator only knows how to warm a model into memory and how to request
// a batch of images from it.
package synth

import "context"

// Spec carries one generation request to the worker. The prompt has already
// been style-enhanced and the negative prompt defaulted.
type Spec struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Seed           *int64  `json:"seed,omitempty"`
	NumImages      int     `json:"num_images"`
	ModelVersion   string  `json:"model_version"`
}

// Image is one produced output.
type Image struct {
	Data   []byte `json:"data"`
	Format string `json:"format"`
}

// Synthesizer is implemented by anything that can load models and produce
// images. Both calls may block for seconds to minutes and must honor ctx.
type Synthesizer interface {
	// Warm loads the given model version into the compute device. It backs
	// pipeline construction and is expected to be the expensive first-use cost.
	Warm(ctx context.Context, modelVersion string) error

	// Generate produces the requested images. Any returned error is treated
	// as a compute failure by the caller.
	Generate(ctx context.Context, spec Spec) ([]Image, error)
}
