package storage

import "time"

// Interface persists report snapshots. A snapshot is output only: the engine
// never reads one back as state, every report is recomputed from trades.
//
// Implementations must be safe for concurrent use.
type Interface interface {
	// Save replaces the stored snapshot with v.
	Save(v any) error
	// LastSaved returns when Save last succeeded, or the zero time.
	LastSaved() time.Time
	// Path describes where snapshots are written.
	Path() string
}

// NewStorage creates a new storage implementation (currently JSON-based)
func NewStorage(path string) (Interface, error) {
	return NewJSONStorage(path)
}

// Ensure implementations satisfy Interface
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
