package storage

import (
	"encoding/json"
	"sync"
	"time"
)

// MockStorage keeps snapshots in memory for testing.
type MockStorage struct {
	mu            sync.Mutex
	saveError     error
	snapshots     [][]byte
	lastSaved     time.Time
	saveCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{}
}

// Save records the JSON encoding of v unless a save error is configured.
func (m *MockStorage) Save(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	if m.saveError != nil {
		return m.saveError
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.snapshots = append(m.snapshots, data)
	m.lastSaved = time.Now()
	return nil
}

// LastSaved returns the time of the last successful Save.
func (m *MockStorage) LastSaved() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSaved
}

// Path identifies the mock.
func (m *MockStorage) Path() string { return "memory" }

// SetSaveError makes subsequent saves fail with err.
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// Latest returns the most recently saved snapshot, or nil.
func (m *MockStorage) Latest() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snapshots) == 0 {
		return nil
	}
	return m.snapshots[len(m.snapshots)-1]
}

// SaveCallCount returns how many times Save was called.
func (m *MockStorage) SaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}
