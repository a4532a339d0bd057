package receipt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Storage defines the file operations the catalogue performs under the storage root.
// Paths are slash-separated and relative to the root.
type Storage interface {
	// Create writes a new file, failing with fs.ErrExist if it is already present
	Create(path string, data []byte) error

	// Get retrieves a file by path
	Get(path string) ([]byte, error)

	// Delete removes a file
	Delete(path string) error

	// Move renames a file, creating the destination directory when needed
	Move(from, to string) error

	// Exists reports whether a file is present
	Exists(path string) (bool, error)

	// RemoveDirIfEmpty removes a directory when it has no entries
	RemoveDirIfEmpty(dir string) (bool, error)
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance with the shared receipts directory in place
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(filepath.Join(basePath, SharedDir), 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolving storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: abs,
	}, nil
}

// Root returns the absolute storage root
func (l *LocalStorage) Root() string {
	return l.basePath
}

// resolve maps a relative path onto the filesystem, refusing anything that escapes the root
func (l *LocalStorage) resolve(rel string) (string, error) {
	full := filepath.Join(l.basePath, filepath.FromSlash(rel))
	if full != l.basePath && !strings.HasPrefix(full, l.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path %q: outside storage root", rel)
	}
	return full, nil
}

// Create writes a new file to local storage
func (l *LocalStorage) Create(path string, data []byte) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(full)
		return fmt.Errorf("writing file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(full)
		return fmt.Errorf("syncing file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(full)
		return fmt.Errorf("closing file: %w", err)
	}
	return nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(path string) ([]byte, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// Move renames a file within local storage
func (l *LocalStorage) Move(from, to string) error {
	src, err := l.resolve(from)
	if err != nil {
		return err
	}
	dst, err := l.resolve(to)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving file: %w", err)
	}
	return nil
}

// Exists reports whether a file is present in local storage
func (l *LocalStorage) Exists(path string) (bool, error) {
	full, err := l.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking file: %w", err)
	}
	return !info.IsDir(), nil
}

// RemoveDirIfEmpty removes dir when it is empty. The storage root and the
// shared receipts directory are never removed.
func (l *LocalStorage) RemoveDirIfEmpty(dir string) (bool, error) {
	full, err := l.resolve(dir)
	if err != nil {
		return false, err
	}
	if full == l.basePath || full == filepath.Join(l.basePath, SharedDir) {
		return false, nil
	}

	entries, err := os.ReadDir(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading directory: %w", err)
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(full); err != nil {
		return false, fmt.Errorf("removing directory: %w", err)
	}
	return true, nil
}
