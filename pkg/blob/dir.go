package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir implements Store on top of a local filesystem directory.
// Keys are resolved relative to the configured root.
type Dir struct {
	root string
}

// NewDir creates a Dir store rooted at dir.
// The directory is created (with parents) if it does not already exist.
func NewDir(dir string) (*Dir, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Dir{root: abs}, nil
}

func (d *Dir) resolve(key string) string {
	return filepath.Join(d.root, filepath.FromSlash(key))
}

// Get returns the named file's contents.
func (d *Dir) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(d.resolve(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob: get %s: %w", key, os.ErrNotExist)
		}
		return nil, err
	}
	return data, nil
}

// Put writes the named file, creating parent directories as needed.
// The write goes through a temp file and rename so a crash mid-write
// never leaves a truncated object behind.
func (d *Dir) Put(_ context.Context, key string, data []byte) error {
	full := d.resolve(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, full)
}

// Delete removes the named file. Missing files are not an error.
func (d *Dir) Delete(_ context.Context, key string) error {
	err := os.Remove(d.resolve(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Exists reports whether the named file exists.
func (d *Dir) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(d.resolve(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Keys walks the root and returns every file key, slash-separated.
func (d *Dir) Keys(_ context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || filepath.Ext(path) == ".tmp" {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

var _ Store = (*Dir)(nil)
