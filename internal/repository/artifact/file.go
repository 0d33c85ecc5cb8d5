// Package artifact persists encoded index snapshots.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/index"
)

// File keeps one artifact on the local filesystem.
type File struct {
	path string
}

// NewFile creates a file-backed artifact store.
func NewFile(path string) *File {
	return &File{path: path}
}

// Location returns the artifact path.
func (f *File) Location() string { return f.path }

// Save writes the artifact to a temp file next to the target and renames it,
// so readers never observe a partial artifact.
func (f *File) Save(_ context.Context, s *index.Snapshot) error {
	data, err := index.EncodeBytes(s)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // write error wins
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck,gosec // sync error wins
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

// Load reads and verifies the artifact. A missing file is ErrIndexUnavailable.
func (f *File) Load(_ context.Context, expect *domain.EncoderInfo) (*index.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("artifact %s not found: %w", f.path, domain.ErrIndexUnavailable)
		}
		return nil, fmt.Errorf("read artifact %s: %w", f.path, err)
	}
	s, err := index.Decode(data, expect)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", f.path, err)
	}
	return s, nil
}
