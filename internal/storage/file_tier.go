package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const fileSuffix = ".json"

// FileTier stores one file per key in a directory. Writes go through a temp file and
// a rename so a concurrent reader never sees a partial value.
type FileTier struct {
	mu    sync.RWMutex
	dir   string
	quota int64
	sizes map[string]int64
	// written remembers our own last write per key so the watcher can ignore it.
	written map[string][]byte
}

// NewFileTier creates a FileTier rooted at dir; quota <= 0 means unlimited.
func NewFileTier(dir string, quota int64) (*FileTier, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	t := &FileTier{
		dir:     dir,
		quota:   quota,
		sizes:   make(map[string]int64),
		written: make(map[string][]byte),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading storage directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		t.sizes[keyFromFile(e.Name())] = info.Size()
	}
	return t, nil
}

func (t *FileTier) Name() string { return "file" }

// Dir returns the directory backing the tier.
func (t *FileTier) Dir() string { return t.dir }

// Get reads a value.
func (t *FileTier) Get(key string) ([]byte, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	data, err := os.ReadFile(t.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, true, nil
}

// Set writes a value, failing with ErrQuotaExceeded when the directory budget is spent.
func (t *FileTier) Set(key string, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.quota > 0 {
		var used int64
		for k, n := range t.sizes {
			if k != key {
				used += n
			}
		}
		if used+int64(len(value)) > t.quota {
			return ErrQuotaExceeded
		}
	}

	path := t.path(key)
	tmp, err := os.CreateTemp(t.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming %s: %w", key, err)
	}

	t.sizes[key] = int64(len(value))
	t.written[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes a value; deleting a missing key is not an error.
func (t *FileTier) Delete(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.Remove(t.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	delete(t.sizes, key)
	delete(t.written, key)
	return nil
}

// Keys lists stored keys in sorted order.
func (t *FileTier) Keys() ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.sizes))
	for k := range t.sizes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (t *FileTier) Close() error { return nil }

// isOwnWrite reports whether the file content of key equals our last write.
func (t *FileTier) isOwnWrite(key string, data []byte) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	last, ok := t.written[key]
	return ok && bytes.Equal(last, data)
}

// noteExternal refreshes size bookkeeping after another process wrote key.
func (t *FileTier) noteExternal(key string, size int64, removed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if removed {
		delete(t.sizes, key)
		delete(t.written, key)
		return
	}
	t.sizes[key] = size
}

func (t *FileTier) path(key string) string {
	return filepath.Join(t.dir, fileFromKey(key))
}

// Keys contain ':' which is not portable in file names.
func fileFromKey(key string) string {
	return strings.ReplaceAll(key, ":", "__") + fileSuffix
}

func keyFromFile(name string) string {
	return strings.ReplaceAll(strings.TrimSuffix(name, fileSuffix), "__", ":")
}
