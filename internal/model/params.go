package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Parameter bounds and defaults for a generation request. These mirror the
// contract clients are validated against before a job is created.
const (
	MaxPromptLen         = 1000
	MaxNegativePromptLen = 500
	MinSteps             = 10
	MaxSteps             = 50
	DefaultSteps         = 20
	MinGuidanceScale     = 1.0
	MaxGuidanceScale     = 20.0
	DefaultGuidanceScale = 7.5
	MaxNumImages         = 4

	DefaultModelVersion = "stable-diffusion-xl-base-1.0"
	DefaultStyle        = "realistic"
	DefaultSize         = "1024x1024"

	defaultNegativePrompt = "blurry, low quality, distorted"
)

// GenerationParams describes one generation request. Optional fields are
// filled by ApplyDefaults; Validate rejects out-of-range values before a job
// record exists.
type GenerationParams struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Style          string  `json:"style,omitempty"`
	Size           string  `json:"size,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
	NumImages      int     `json:"num_images,omitempty"`
	ModelVersion   string  `json:"model_version,omitempty"`
}

// ApplyDefaults fills zero-valued optional fields with their defaults.
func (p *GenerationParams) ApplyDefaults() {
	if p.Style == "" {
		p.Style = DefaultStyle
	}
	if p.Size == "" {
		p.Size = DefaultSize
	}
	if p.Steps == 0 {
		p.Steps = DefaultSteps
	}
	if p.GuidanceScale == 0 {
		p.GuidanceScale = DefaultGuidanceScale
	}
	if p.NumImages == 0 {
		p.NumImages = 1
	}
	if p.ModelVersion == "" {
		p.ModelVersion = DefaultModelVersion
	}
}

// Validate checks the request against the parameter contract. It assumes
// ApplyDefaults has already run.
func (p *GenerationParams) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	if len(p.Prompt) > MaxPromptLen {
		return fmt.Errorf("prompt exceeds %d characters", MaxPromptLen)
	}
	if len(p.NegativePrompt) > MaxNegativePromptLen {
		return fmt.Errorf("negative_prompt exceeds %d characters", MaxNegativePromptLen)
	}
	if !ValidStyle(p.Style) {
		return fmt.Errorf("unknown style %q", p.Style)
	}
	if !ValidSize(p.Size) {
		return fmt.Errorf("unknown size %q", p.Size)
	}
	if p.Steps < MinSteps || p.Steps > MaxSteps {
		return fmt.Errorf("steps must be between %d and %d", MinSteps, MaxSteps)
	}
	if p.GuidanceScale < MinGuidanceScale || p.GuidanceScale > MaxGuidanceScale {
		return fmt.Errorf("guidance_scale must be between %.1f and %.1f", MinGuidanceScale, MaxGuidanceScale)
	}
	if p.NumImages < 1 || p.NumImages > MaxNumImages {
		return fmt.Errorf("num_images must be between 1 and %d", MaxNumImages)
	}
	return nil
}

// EnhancedPrompt returns the prompt with the style suffix appended, as sent
// to the synthesis worker.
func (p *GenerationParams) EnhancedPrompt() string {
	suffix := stylePrompts[p.Style]
	if suffix == "" {
		return p.Prompt
	}
	return p.Prompt + ", " + suffix
}

// EffectiveNegativePrompt returns the negative prompt, falling back to the
// stock quality filter when the client supplied none.
func (p *GenerationParams) EffectiveNegativePrompt() string {
	if p.NegativePrompt == "" {
		return defaultNegativePrompt
	}
	return p.NegativePrompt
}

// Dimensions parses the size field into width and height pixels.
func (p *GenerationParams) Dimensions() (width, height int, err error) {
	w, h, ok := strings.Cut(p.Size, "x")
	if !ok {
		return 0, 0, fmt.Errorf("malformed size %q", p.Size)
	}
	width, err = strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed size %q", p.Size)
	}
	height, err = strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed size %q", p.Size)
	}
	return width, height, nil
}

// Parameters returns the reproducibility block persisted with the result.
func (p *GenerationParams) Parameters() GenerationParameters {
	return GenerationParameters{
		Steps:         p.Steps,
		GuidanceScale: p.GuidanceScale,
		Seed:          p.Seed,
		ModelVersion:  p.ModelVersion,
		NumImages:     p.NumImages,
	}
}
