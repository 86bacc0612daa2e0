// Package store persists finished generation records. The orchestrator
// treats it as the external history collaborator: the executor commits one
// record per completed job, and the history endpoints read from it.
package store

import (
	"context"
	"errors"

	"github.com/calder/mirage/internal/model"
)

// ErrNotFound is returned when a generation record is not found.
var ErrNotFound = errors.New("generation record not found")

// GenerationStats holds aggregate history statistics.
type GenerationStats struct {
	Total             int     `json:"total"`
	Favorites         int     `json:"favorites"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
}

// Store defines the persistence operations for generation history.
type Store interface {
	Insert(ctx context.Context, rec *model.GenerationRecord) error
	GetByID(ctx context.Context, id string) (*model.GenerationRecord, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*model.GenerationRecord, int, error)
	SetFavorite(ctx context.Context, id, userID string, favorite bool) error
	Delete(ctx context.Context, id, userID string) error
	Stats(ctx context.Context) (*GenerationStats, error)
	Close() error
}
