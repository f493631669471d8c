package storage

import "errors"

// ErrNoPath is returned when a snapshot store is created without a file path.
var ErrNoPath = errors.New("snapshot path is required")
