package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local implements Blob on the local filesystem. Objects are served through
// a static file server (or nginx) rooted at basePath, so URL joins the
// public base URL with the key.
type Local struct {
	basePath string
	baseURL  string
}

// NewLocal creates a filesystem-backed blob store.
func NewLocal(basePath, baseURL string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory %s: %w", basePath, err)
	}
	return &Local{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (s *Local) Put(ctx context.Context, key string, content []byte, contentType string) error {
	fullPath := s.keyToPath(key)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(fullPath, content, 0o644); err != nil {
		return fmt.Errorf("write object %s: %w", key, err)
	}
	return nil
}

func (s *Local) Get(ctx context.Context, key string) ([]byte, error) {
	content, err := os.ReadFile(s.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object not found: %s", key)
		}
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return content, nil
}

func (s *Local) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

func (s *Local) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.keyToPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *Local) URL(key string) string {
	return s.baseURL + "/" + strings.TrimPrefix(key, "/")
}

// keyToPath converts a storage key to a filesystem path, preventing
// path traversal.
func (s *Local) keyToPath(key string) string {
	cleanKey := strings.TrimPrefix(filepath.Join("/", key), "/")
	return filepath.Join(s.basePath, cleanKey)
}
