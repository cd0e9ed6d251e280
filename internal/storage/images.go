package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// FileImageStore writes generated images under dir and serves them from
// publicBase (e.g. "http://localhost:8080/images").
type FileImageStore struct {
	dir        string
	publicBase string
}

var _ schema.ImageStore = (*FileImageStore)(nil)

func NewFileImageStore(dir, publicBase string) *FileImageStore {
	return &FileImageStore{dir: dir, publicBase: strings.TrimRight(publicBase, "/")}
}

// Dir returns the directory images are written to.
func (s *FileImageStore) Dir() string { return s.dir }

// SaveImage writes data as <id>.<ext>. An empty id gets a random one.
func (s *FileImageStore) SaveImage(_ context.Context, id string, data []byte, mimeType string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	name := sanitizeName(id) + extensionFor(mimeType)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write image %s: %w", name, err)
	}
	return s.publicBase + "/" + name, nil
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func sanitizeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}
