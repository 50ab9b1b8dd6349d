package variables

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/companion-board/backend/internal/models"
)

// Status is the connectivity signal of a fetcher, derived from its last tick.
type Status string

const (
	StatusIdle     Status = "idle"     // nothing to fetch
	StatusOnline   Status = "online"   // every fetch succeeded
	StatusDegraded Status = "degraded" // some fetches failed
	StatusOffline  Status = "offline"  // every fetch failed, or no endpoint is configured
)

// DefaultFallbackInterval is the tick interval used when no connection is resolvable.
const DefaultFallbackInterval = 5 * time.Second

// Input is the immutable view of store content a single tick works on.
type Input struct {
	Templates       map[string]string
	DefaultURL      string
	Connections     []models.Connection
	RefreshInterval time.Duration
}

// Source returns the current input for the next tick.
type Source func() Input

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	FallbackInterval time.Duration
	// OnPublish is called, in tick order, each time a new distinct map is published.
	OnPublish func(models.ResolvedMap)
	// OnStatus is called when the connectivity status changes.
	OnStatus func(Status)
	Logger   *log.Logger
}

// Fetcher keeps a continuously refreshed map of resolved values for one render subject.
type Fetcher struct {
	getter   Getter
	source   Source
	fallback time.Duration
	onPub    func(models.ResolvedMap)
	onStatus func(Status)
	logger   *log.Logger
	trigger  chan struct{}

	mu        sync.Mutex
	issued    uint64
	completed uint64
	values    models.ResolvedMap
	status    Status
	stopped   bool

	// publishMu orders commits together with their callbacks.
	publishMu sync.Mutex
}

// NewFetcher creates a fetcher whose initial values are the literal-only rendering of
// the source templates, available before any network round trip.
func NewFetcher(getter Getter, source Source, opts FetcherOptions) *Fetcher {
	fallback := opts.FallbackInterval
	if fallback <= 0 {
		fallback = DefaultFallbackInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	f := &Fetcher{
		getter:   getter,
		source:   source,
		fallback: fallback,
		onPub:    opts.OnPublish,
		onStatus: opts.OnStatus,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		status:   StatusIdle,
	}
	f.values = LiteralValues(source().Templates)
	return f
}

// LiteralValues renders templates with every token stripped and no network access.
func LiteralValues(templates map[string]string) models.ResolvedMap {
	out := make(models.ResolvedMap, len(templates))
	for field, tmpl := range templates {
		plain := StripTokens(tmpl)
		out[field] = models.ResolvedValue{Plain: plain, HTML: RenderMarkdown(plain)}
	}
	return out
}

// Values returns the latest published map.
func (f *Fetcher) Values() models.ResolvedMap {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values.Clone()
}

// Status returns the connectivity status of the last accepted tick.
func (f *Fetcher) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Trigger asks the run loop to start the next tick now instead of waiting.
func (f *Fetcher) Trigger() {
	select {
	case f.trigger <- struct{}{}:
	default:
	}
}

// Stop discards every result that completes afterwards.
func (f *Fetcher) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

// Run ticks until ctx is done. A tick starts only after the previous one committed.
func (f *Fetcher) Run(ctx context.Context) {
	for {
		in, _ := f.tick(ctx)
		timer := time.NewTimer(f.interval(in))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-f.trigger:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Refresh runs one tick and reports whether it published a new map. Concurrent calls
// are allowed; a tick that completes after a newer one is discarded.
func (f *Fetcher) Refresh(ctx context.Context) bool {
	_, published := f.tick(ctx)
	return published
}

func (f *Fetcher) interval(in Input) time.Duration {
	if !AnyResolvable(in.DefaultURL, in.Connections) {
		return f.fallback
	}
	if in.RefreshInterval <= 0 {
		return time.Duration(models.DefaultRefreshIntervalMs) * time.Millisecond
	}
	return in.RefreshInterval
}

func (f *Fetcher) tick(ctx context.Context) (Input, bool) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return Input{}, false
	}
	f.issued++
	seq := f.issued
	f.mu.Unlock()

	in := f.source()
	values, status := f.resolve(ctx, in)
	return in, f.commit(seq, values, status)
}

func (f *Fetcher) commit(seq uint64, values models.ResolvedMap, status Status) bool {
	f.publishMu.Lock()
	defer f.publishMu.Unlock()

	f.mu.Lock()
	if f.stopped || seq <= f.completed {
		f.mu.Unlock()
		f.logger.Debug("discarding stale tick", "seq", seq)
		return false
	}
	f.completed = seq
	statusChanged := f.status != status
	f.status = status
	changed := !f.values.Equal(values)
	if changed {
		f.values = values
	}
	f.mu.Unlock()

	if statusChanged && f.onStatus != nil {
		f.onStatus(status)
	}
	if changed && f.onPub != nil {
		f.onPub(values.Clone())
	}
	return changed
}

// resolve fetches every distinct token of the input concurrently and renders each
// template. Failures degrade to an empty value for that token only.
func (f *Fetcher) resolve(ctx context.Context, in Input) (models.ResolvedMap, Status) {
	parsed := make(map[string][]Token, len(in.Templates))
	distinct := make(map[string]Token)
	for field, tmpl := range in.Templates {
		toks := Parse(tmpl)
		parsed[field] = toks
		for _, t := range toks {
			distinct[t.Raw] = t
		}
	}

	results := make(map[string]string, len(distinct))
	var (
		mu                   sync.Mutex
		wg                   sync.WaitGroup
		attempted, succeeded int
		unresolved           []string
	)
	for raw, tok := range distinct {
		base, ok := ResolveURL(tok.ConnectionIndex, in.DefaultURL, in.Connections)
		if !ok {
			unresolved = append(unresolved, raw)
			continue
		}
		attempted++
		wg.Add(1)
		go func(raw string, tok Token, base string) {
			defer wg.Done()
			v, err := f.getter.GetVariable(ctx, base, tok.Namespace, tok.Name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				f.logger.Debug("variable fetch failed", "variable", tok.Variable(), "base", base, "err", err)
				results[raw] = ""
				return
			}
			succeeded++
			results[raw] = normalizeValue(v, tok)
		}(raw, tok, base)
	}
	wg.Wait()
	// Written only after the fetches finished; results is shared with them.
	for _, raw := range unresolved {
		results[raw] = ""
	}

	out := make(models.ResolvedMap, len(in.Templates))
	for field, tmpl := range in.Templates {
		plain := tmpl
		if toks := parsed[field]; len(toks) > 0 {
			plain = Substitute(tmpl, toks, func(t Token) string { return results[t.Raw] })
		}
		out[field] = models.ResolvedValue{Plain: plain, HTML: RenderMarkdown(plain)}
	}

	var status Status
	switch {
	case attempted == 0 && len(distinct) == 0:
		status = StatusIdle
	case attempted == 0 || succeeded == 0:
		status = StatusOffline
	case succeeded < attempted:
		status = StatusDegraded
	default:
		status = StatusOnline
	}
	return out, status
}

// normalizeValue maps Companion's "absent" sentinels to the empty string.
func normalizeValue(v string, tok Token) string {
	switch v {
	case tok.Name, tok.Variable(), "null", "undefined":
		return ""
	}
	return v
}
