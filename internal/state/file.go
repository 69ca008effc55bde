package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// ErrLocked is returned if another process holds the lock of a state file
var ErrLocked = errors.New("state file is locked by another process")

// File is a JSON document of type T on disk. Loading tolerates comments, trailing commas,
// unknown fields and missing fields so operators can edit the file by hand. Saving
// replaces the file atomically.
type File[T any] struct {
	path string
}

// NewFile returns a File at path
func NewFile[T any](path string) *File[T] {
	return &File[T]{path: path}
}

// Path returns the location of the file
func (f *File[T]) Path() string {
	return f.path
}

// Load reads the file. A missing or empty file yields the zero value of T.
func (f *File[T]) Load() (T, error) {
	var v T
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return v, nil
	}
	if err != nil {
		return v, fmt.Errorf("failed to read state file %v: %w", f.path, err)
	}
	if len(data) == 0 {
		return v, nil
	}

	if err := json.Unmarshal(jsonc.ToJSON(data), &v); err != nil {
		return v, fmt.Errorf("failed to parse state file %v: %w", f.path, err)
	}
	return v, nil
}

// Save writes v to a temporary file in the same directory and renames it over the
// existing file, so readers see either the old or the new document.
func (f *File[T]) Save(v T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state for %v: %w", f.path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir %v: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace state file %v: %w", f.path, err)
	}
	return nil
}

// Lock takes an exclusive advisory lock on a sidecar lock file. It fails with ErrLocked
// instead of waiting if another process holds the lock.
func (f *File[T]) Lock() (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	lockFile, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := lock(lockFile); err != nil {
		_ = lockFile.Close()
		return nil, fmt.Errorf("%v: %w", f.path, err)
	}

	return func() error {
		unlockErr := unlock(lockFile)
		closeErr := lockFile.Close()
		if unlockErr != nil {
			return unlockErr
		}
		return closeErr
	}, nil
}
