package infrastructure

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalMediaStorage writes migrated media under a directory that the HTTP
// server exposes at publicURL.
type LocalMediaStorage struct {
	dir       string
	publicURL string
}

func NewLocalMediaStorage(dir, publicURL string) (*LocalMediaStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &LocalMediaStorage{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (s *LocalMediaStorage) Dir() string { return s.dir }

func (s *LocalMediaStorage) Put(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid media key %q", key)
	}
	target := filepath.Join(s.dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", err
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return s.publicURL + clean, nil
}
