// Package blob stores attachment bytes addressed by opaque content ids.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store is the narrow contract the core consumes for attachment bytes.
type Store interface {
	// Open returns a reader for the bytes of a content id
	Open(ctx context.Context, contentID string) (io.ReadCloser, error)

	// Put stores bytes under a content id, overwriting any previous value
	Put(ctx context.Context, contentID string, r io.Reader) error
}

// FSStore keeps blobs as flat files under a directory.
type FSStore struct {
	dir string
}

// NewFSStore creates a filesystem-backed blob store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) path(contentID string) (string, error) {
	// Content ids are opaque but must not escape the blob dir
	if contentID == "" || strings.ContainsAny(contentID, "/\\") || strings.Contains(contentID, "..") {
		return "", fmt.Errorf("invalid content id %q", contentID)
	}
	return filepath.Join(s.dir, contentID), nil
}

func (s *FSStore) Open(_ context.Context, contentID string) (io.ReadCloser, error) {
	p, err := s.path(contentID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", contentID, err)
	}
	return f, nil
}

func (s *FSStore) Put(_ context.Context, contentID string, r io.Reader) error {
	p, err := s.path(contentID)
	if err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("create blob %s: %w", contentID, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("write blob %s: %w", contentID, err)
	}
	return nil
}
