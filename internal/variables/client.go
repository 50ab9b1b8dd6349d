package variables

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrStatus is wrapped by errors for non-success Companion responses.
var ErrStatus = errors.New("unexpected status")

// maxValueBytes bounds the body read for a single variable value.
const maxValueBytes = 64 * 1024

// Getter fetches one variable value from a Companion base URL.
type Getter interface {
	GetVariable(ctx context.Context, baseURL, namespace, name string) (string, error)
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Timeout time.Duration
	// RequestsPerSecond limits requests per base URL; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// Client is the HTTP Getter used against Companion's variable API.
type Client struct {
	http     *http.Client
	rps      rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a variable API client.
func NewClient(opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		http:     hc,
		rps:      rate.Limit(opts.RequestsPerSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// VariablePath returns the request path of a variable value.
func VariablePath(namespace, name string) string {
	return "/api/variable/" + url.PathEscape(namespace) + "/" + url.PathEscape(name) + "/value"
}

// GetVariable performs GET {baseURL}/api/variable/{namespace}/{name}/value and returns
// the trimmed body.
func (c *Client) GetVariable(ctx context.Context, baseURL, namespace, name string) (string, error) {
	if lim := c.limiter(baseURL); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+VariablePath(namespace, name), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxValueBytes))
		return "", fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxValueBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *Client) limiter(baseURL string) *rate.Limiter {
	if c.rps <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[baseURL]
	if !ok {
		lim = rate.NewLimiter(c.rps, c.burst)
		c.limiters[baseURL] = lim
	}
	return lim
}
