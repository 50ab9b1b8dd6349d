package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Companion is a fake Companion variable API. Unknown variables answer 404.
type Companion struct {
	*httptest.Server

	mu     sync.RWMutex
	values map[string]string
	delay  time.Duration
	hits   atomic.Int64
}

// NewCompanion starts a fake Companion server that is closed with the test.
func NewCompanion(t testing.TB) *Companion {
	t.Helper()
	c := &Companion{values: make(map[string]string)}
	c.Server = httptest.NewServer(http.HandlerFunc(c.serve))
	t.Cleanup(c.Close)
	return c
}

// Set sets the value served for namespace:name.
func (c *Companion) Set(namespace, name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[namespace+":"+name] = value
}

// SetDelay delays every response, or stops delaying with zero.
func (c *Companion) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// Hits returns the number of requests served.
func (c *Companion) Hits() int64 { return c.hits.Load() }

func (c *Companion) serve(w http.ResponseWriter, r *http.Request) {
	c.hits.Add(1)

	// /api/variable/{namespace}/{name}/value
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 5 || parts[0] != "api" || parts[1] != "variable" || parts[4] != "value" {
		http.NotFound(w, r)
		return
	}

	c.mu.RLock()
	v, ok := c.values[parts[2]+":"+parts[3]]
	delay := c.delay
	c.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(v))
}
