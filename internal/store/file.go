package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

const filePerms = 0o600

// FileStore keeps the document in one file, replaced atomically on every
// store.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &IOError{Op: "load", Path: f.path, Err: err}
	}
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", &IOError{Op: "load", Path: f.path, Err: err}
	}
	return string(b), nil
}

func (f *FileStore) Store(ctx context.Context, content string) error {
	if err := ctx.Err(); err != nil {
		return &IOError{Op: "store", Path: f.path, Err: err}
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &IOError{Op: "store", Path: f.path, Err: err}
		}
	}

	if err := atomic.WriteFile(f.path, strings.NewReader(content)); err != nil {
		return &IOError{Op: "store", Path: f.path, Err: err}
	}
	// atomic.WriteFile doesn't set permissions for new files
	if err := os.Chmod(f.path, filePerms); err != nil {
		return &IOError{Op: "store", Path: f.path, Err: err}
	}
	return nil
}
