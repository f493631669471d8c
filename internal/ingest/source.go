package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// DocumentSource lists and opens export documents at a source location.
type DocumentSource interface {
	// List returns the document names at location. An error here is fatal
	// to the ingestion run.
	List(ctx context.Context, location string) ([]string, error)
	// Open returns a reader for one document previously returned by List.
	Open(ctx context.Context, location, name string) (io.ReadCloser, error)
}

// FSSource reads export documents from a directory on the local filesystem.
// Subdirectories are not descended into.
type FSSource struct{}

// NewFSSource creates a filesystem document source.
func NewFSSource() *FSSource {
	return &FSSource{}
}

// List returns the regular file names in the directory, sorted.
func (s *FSSource) List(ctx context.Context, location string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(location)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Open opens one document for reading.
func (s *FSSource) Open(ctx context.Context, location, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid document name %q", name)
	}
	return os.Open(filepath.Join(location, name))
}
