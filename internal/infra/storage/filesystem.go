package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

// FileStore stages content on the local filesystem, for single-node setups
// where api and worker share a volume.
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Put writes atomically through a temp file and rename.
func (fs *FileStore) Put(ctx context.Context, fp domain.Fingerprint, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := filepath.Join(string(fp[:2]), string(fp))
	path, err := fs.resolve(handle)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating staging shard: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), string(fp)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("persisting staged content: %w", err)
	}
	return handle, nil
}

func (fs *FileStore) Get(ctx context.Context, handle string) ([]byte, error) {
	path, err := fs.resolve(handle)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: staged content %s", domain.ErrNotFound, handle)
		}
		return nil, fmt.Errorf("reading staged content: %w", err)
	}
	return data, nil
}

func (fs *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(fs.baseDir)
	return err
}

// resolve blocks path traversal out of baseDir.
func (fs *FileStore) resolve(handle string) (string, error) {
	base := filepath.Clean(fs.baseDir)
	path := filepath.Clean(filepath.Join(base, handle))
	if path == base || !strings.HasPrefix(path, base+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid handle %q: path traversal detected", handle)
	}
	return path, nil
}
