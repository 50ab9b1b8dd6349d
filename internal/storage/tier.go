// Package storage provides the persistence tiers behind the state store: a namespaced
// key/value layer with a primary tier and a fallback tier used when the primary is full.
package storage

import (
	"errors"
	"sort"
	"sync"
)

// ErrQuotaExceeded is returned by a tier when a write would exceed its byte budget.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// ErrClosed is returned by operations on a closed tier.
var ErrClosed = errors.New("storage tier closed")

// Tier is one persistence backend.
type Tier interface {
	Name() string
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Keys() ([]string, error)
	Close() error
}

// MemoryTier keeps values in process memory. It is used for ephemeral instances and
// as the last-resort fallback.
type MemoryTier struct {
	mu     sync.RWMutex
	values map[string][]byte
	quota  int64
	used   int64
}

// NewMemoryTier creates a memory tier; quota <= 0 means unlimited.
func NewMemoryTier(quota int64) *MemoryTier {
	return &MemoryTier{values: make(map[string][]byte), quota: quota}
}

func (m *MemoryTier) Name() string { return "memory" }

func (m *MemoryTier) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryTier) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.used - int64(len(m.values[key])) + int64(len(value))
	if m.quota > 0 && next > m.quota {
		return ErrQuotaExceeded
	}
	m.values[key] = append([]byte(nil), value...)
	m.used = next
	return nil
}

func (m *MemoryTier) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= int64(len(m.values[key]))
	delete(m.values, key)
	return nil
}

func (m *MemoryTier) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryTier) Close() error { return nil }
