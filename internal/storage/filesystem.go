// Package storage persists generated image artifacts and hands back the
// stable URLs recorded in the history store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/calder/mirage/internal/synth"
)

// URLPrefix is the public path under which saved artifacts are served.
const URLPrefix = "/generated-images/"

// FileStore writes artifacts onto the local filesystem. It stands in for an
// object store in development and test environments.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	return s.basePath
}

// SaveImages persists a batch of generated images for one generation and
// returns their public URLs in order.
func (s *FileStore) SaveImages(ctx context.Context, generationID string, images []synth.Image) ([]string, error) {
	urls := make([]string, 0, len(images))
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		format := img.Format
		if format == "" {
			format = "png"
		}
		name := fmt.Sprintf("%s_%s.%s", generationID, uuid.NewString(), format)
		if err := os.WriteFile(filepath.Join(s.basePath, name), img.Data, 0o644); err != nil {
			return nil, fmt.Errorf("storage: write artifact: %w", err)
		}
		urls = append(urls, URLPrefix+name)
	}
	return urls, nil
}
