// Package storage writes report snapshots to disk.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONStorage writes snapshots as indented JSON. Each Save goes to a temp
// file in the target directory which is then renamed over the snapshot, so
// readers never observe a partial file.
type JSONStorage struct {
	mu        sync.Mutex
	filepath  string
	lastSaved time.Time
}

// NewJSONStorage creates a store writing to path. The parent directory is
// created on first Save.
func NewJSONStorage(path string) (*JSONStorage, error) {
	if path == "" {
		return nil, ErrNoPath
	}
	return &JSONStorage{filepath: filepath.Clean(path)}, nil
}

// Path returns the snapshot file path.
func (s *JSONStorage) Path() string {
	return s.filepath
}

// LastSaved returns the time of the last successful Save.
func (s *JSONStorage) LastSaved() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSaved
}

// Save marshals v and atomically replaces the snapshot file.
func (s *JSONStorage) Save(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.filepath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	// Write to temp file first
	tmp, err := os.CreateTemp(dir, filepath.Base(s.filepath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("setting snapshot permissions: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpName, s.filepath); err != nil {
		cleanup()
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	s.lastSaved = time.Now()
	return nil
}
