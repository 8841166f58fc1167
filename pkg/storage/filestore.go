package storage

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File stores one file per key under a directory. Writes go to a temp file
// followed by a rename, so a crash mid-write never leaves a partial record.
type File struct {
	dir string
}

// NewFile creates the directory if needed and returns the store
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("file storage: dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file storage: creating %s: %w", dir, err)
	}
	return &File{dir: dir}, nil
}

// encodeKey makes a key filesystem-safe while keeping prefix scans possible
func encodeKey(key string) string {
	return hex.EncodeToString([]byte(key)) + ".rec"
}

func decodeKey(name string) (string, bool) {
	if !strings.HasSuffix(name, ".rec") {
		return "", false
	}
	raw, err := hex.DecodeString(strings.TrimSuffix(name, ".rec"))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func (f *File) Put(key string, value []byte) error {
	final := filepath.Join(f.dir, encodeKey(key))
	tmp, err := os.CreateTemp(f.dir, "put-*.tmp")
	if err != nil {
		return fmt.Errorf("file storage: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file storage: writing %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file storage: syncing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file storage: closing %s: %w", key, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file storage: committing %s: %w", key, err)
	}
	return nil
}

func (f *File) Get(key string) ([]byte, error) {
	value, err := os.ReadFile(filepath.Join(f.dir, encodeKey(key)))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("file storage: reading %s: %w", key, err)
	}
	return value, nil
}

func (f *File) Delete(key string) error {
	err := os.Remove(filepath.Join(f.dir, encodeKey(key)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("file storage: deleting %s: %w", key, err)
	}
	return nil
}

func (f *File) List(prefix string) (map[string][]byte, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("file storage: listing: %w", err)
	}
	out := make(map[string][]byte)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, ok := decodeKey(entry.Name())
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		value, err := os.ReadFile(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("file storage: reading %s: %w", key, err)
		}
		out[key] = value
	}
	return out, nil
}

func (f *File) Close() error { return nil }
