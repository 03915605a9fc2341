package filestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prep-agent/backend/internal/cache"
	"github.com/prep-agent/backend/pkg/utils"
)

// FileStore persists one JSON file per cache key under a directory.
// Files are named by the md5 of the key so arbitrary fingerprints map
// to safe filenames.
type FileStore struct {
	dir string
}

func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Write(e cache.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if err := os.WriteFile(s.path(e.Key), data, 0o644); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

// Read returns ok=false for missing, corrupted, or unreadable records;
// the cache treats all three as a miss rather than an error.
func (s *FileStore) Read(key string) (cache.Entry, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return cache.Entry{}, false, nil
	}

	var e cache.Entry
	if err := json.Unmarshal(data, &e); err != nil || e.Key != key {
		return cache.Entry{}, false, nil
	}
	return e, true, nil
}

func (s *FileStore) Delete(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

// LoadAll reads every record in the directory, skipping corrupted ones.
func (s *FileStore) LoadAll() ([]cache.Entry, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list cache dir: %w", err)
	}

	var entries []cache.Entry
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var e cache.Entry
		if err := json.Unmarshal(data, &e); err != nil || e.Key == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, utils.HashString(key)+".json")
}
