package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var keyRegexp = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileSlot keeps each key in its own <dir>/<key>.json file.
type FileSlot struct {
	dir string
}

func NewFileSlot(dir string) (*FileSlot, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StorageError{Op: "open", Key: dir, Err: err}
	}
	return &FileSlot{dir: dir}, nil
}

func (s *FileSlot) path(key string) (string, error) {
	if !keyRegexp.MatchString(key) {
		return "", fmt.Errorf("invalid key")
	}
	return filepath.Join(s.dir, key+".json"), nil
}

func (s *FileSlot) Get(key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}

	return data, nil
}

// Set writes through a temp file and rename so a crash never leaves a torn value.
func (s *FileSlot) Set(key string, value []byte) error {
	path, err := s.path(key)
	if err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "set", Key: key, Err: err}
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "set", Key: key, Err: err}
	}

	return nil
}

func (s *FileSlot) Delete(key string) error {
	path, err := s.path(key)
	if err != nil {
		return &StorageError{Op: "delete", Key: key, Err: err}
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Op: "delete", Key: key, Err: err}
	}

	return nil
}

func (s *FileSlot) Close() error {
	return nil
}
