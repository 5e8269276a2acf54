package harmonizer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BlobStore is the opaque object-storage seam (§6): documents are keyed
// by `{hash}_{safe_filename}` and fetched back as a stream for parsing.
// The engine only needs this narrow contract; the host may swap in an
// S3/GCS-backed implementation without touching the orchestrator.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// FilesystemBlobStore is the default BlobStore: a directory on local
// disk, keyed by sanitized filename. It is the right default for
// single-binary/offline deployments and for tests; production
// deployments configure an object-storage-backed BlobStore instead.
type FilesystemBlobStore struct {
	dir string
}

// NewFilesystemBlobStore creates a BlobStore rooted at dir, creating it
// if necessary.
func NewFilesystemBlobStore(dir string) (*FilesystemBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	return &FilesystemBlobStore{dir: dir}, nil
}

func (s *FilesystemBlobStore) path(key string) string {
	return filepath.Join(s.dir, filepath.Base(key))
}

func (s *FilesystemBlobStore) Put(ctx context.Context, key string, r io.Reader) error {
	f, err := os.Create(s.path(key))
	if err != nil {
		return fmt.Errorf("creating blob %q: %w", key, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing blob %q: %w", key, err)
	}
	return nil
}

func (s *FilesystemBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("opening blob %q: %w", key, err)
	}
	return f, nil
}

func (s *FilesystemBlobStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob %q: %w", key, err)
	}
	return nil
}

var _ BlobStore = (*FilesystemBlobStore)(nil)
