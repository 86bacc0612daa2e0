package model

import "time"

// Job status constants.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// validTransitions maps each status to the set of statuses it may transition to.
// Terminal statuses (completed, failed, cancelled) have no successors.
var validTransitions = map[string]map[string]bool{
	StatusQueued: {
		StatusProcessing: true,
		StatusCompleted:  true,
		StatusFailed:     true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is the in-memory tracking record for one accepted generation request.
// The registry hands out snapshots of it; only the executor and the
// cancellation path mutate the stored copy.
type Job struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Status        string            `json:"status"`
	Progress      float64           `json:"progress"`
	Message       string            `json:"message"`
	EstimatedTime *int              `json:"estimated_time,omitempty"`
	Result        *GenerationRecord `json:"result,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// GenerationParameters is the reproducibility block stored alongside each
// finished generation.
type GenerationParameters struct {
	Steps         int     `json:"steps"`
	GuidanceScale float64 `json:"guidance_scale"`
	Seed          *int64  `json:"seed,omitempty"`
	ModelVersion  string  `json:"model_version"`
	NumImages     int     `json:"num_images"`
}

// GenerationRecord is the persisted layout of one completed generation,
// written to the history store on success.
type GenerationRecord struct {
	ID             string               `json:"id"`
	UserID         string               `json:"user_id"`
	Prompt         string               `json:"prompt"`
	NegativePrompt string               `json:"negative_prompt,omitempty"`
	Style          string               `json:"style"`
	Size           string               `json:"size"`
	ImageURLs      []string             `json:"image_urls"`
	Parameters     GenerationParameters `json:"parameters"`
	CreatedAt      time.Time            `json:"created_at"`
	ProcessingTime float64              `json:"processing_time"`
	IsFavorite     bool                 `json:"is_favorite"`
}
