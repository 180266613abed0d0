package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileBackend stores each document as <root>/<namespace>/<key>.json
type FileBackend struct {
	root string
}

// NewFileBackend creates a file backend rooted at dir
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{root: dir}
}

func (f *FileBackend) path(namespace, key string) string {
	return filepath.Join(f.root, namespace, key+".json")
}

// EnsureNamespace creates the namespace directory if it doesn't exist
func (f *FileBackend) EnsureNamespace(ctx context.Context, namespace string) error {
	if err := os.MkdirAll(filepath.Join(f.root, namespace), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func (f *FileBackend) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(namespace, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", f.path(namespace, key), err)
	}
	return data, nil
}

// Put writes to a temp file in the same directory and renames it into place,
// so readers never observe a partially written document.
func (f *FileBackend) Put(ctx context.Context, namespace, key string, data []byte) error {
	if err := f.EnsureNamespace(ctx, namespace); err != nil {
		return err
	}
	dir := filepath.Join(f.root, namespace)

	tmp, err := os.CreateTemp(dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path(namespace, key)); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (f *FileBackend) Keys(ctx context.Context, namespace string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, namespace))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", namespace, err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}
