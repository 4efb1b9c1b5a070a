package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend lays records out as <dir>/<kind>/<id>.json, with line-oriented
// kinds stored as <id>.log.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

func (f *FileBackend) path(key Key) string {
	ext := ".json"
	if key.Kind.lineOriented() {
		ext = ".log"
	}
	return filepath.Join(f.dir, string(key.Kind), key.ID+ext)
}

func (f *FileBackend) Get(_ context.Context, key Key) ([]byte, error) {
	b, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

// Put replaces the record through a temporary file and rename, so readers
// never observe a partial write.
func (f *FileBackend) Put(_ context.Context, key Key, body []byte) error {
	file := f.path(key)
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, file); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (f *FileBackend) Append(_ context.Context, key Key, body []byte) error {
	file := f.path(key)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(file), err)
	}
	fh, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fh.Write(body); err != nil {
		fh.Close()
		return fmt.Errorf("append %s: %w", key, err)
	}
	return fh.Close()
}

func (f *FileBackend) Delete(_ context.Context, key Key) error {
	err := os.Remove(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
