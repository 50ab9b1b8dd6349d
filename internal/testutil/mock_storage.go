// mock_storage.go - Storage tier with injectable failures for testing
package testutil

import (
	"errors"
	"sync"

	"github.com/companion-board/backend/internal/storage"
)

// ErrInjected is returned by MockTier operations set up to fail.
var ErrInjected = errors.New("injected storage failure")

// MockTier wraps an in-memory tier and fails chosen operations on demand.
type MockTier struct {
	*storage.MemoryTier

	mu       sync.Mutex
	failSets error
	failGets error
	sets     int
}

// NewMockTier creates a mock tier; quota <= 0 means unlimited.
func NewMockTier(quota int64) *MockTier {
	return &MockTier{MemoryTier: storage.NewMemoryTier(quota)}
}

func (m *MockTier) Name() string { return "mock" }

// FailSets makes every following Set return err; nil restores normal behavior.
func (m *MockTier) FailSets(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSets = err
}

// FailGets makes every following Get return err; nil restores normal behavior.
func (m *MockTier) FailGets(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGets = err
}

// Sets returns the number of successful writes.
func (m *MockTier) Sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

func (m *MockTier) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	err := m.failGets
	m.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	return m.MemoryTier.Get(key)
}

func (m *MockTier) Set(key string, value []byte) error {
	m.mu.Lock()
	err := m.failSets
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if err := m.MemoryTier.Set(key, value); err != nil {
		return err
	}
	m.mu.Lock()
	m.sets++
	m.mu.Unlock()
	return nil
}

// NewKV returns a namespaced KV over a fresh mock tier.
func NewKV(namespace string) (*storage.KV, *MockTier) {
	tier := NewMockTier(0)
	return storage.NewKV(namespace, tier, nil, nil), tier
}
