// Package session runs one variable fetch session per render subject: each box and
// the canvas. Sessions follow store change events; nothing polls the store.
package session

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/companion-board/backend/internal/models"
	"github.com/companion-board/backend/internal/store"
	"github.com/companion-board/backend/internal/variables"
)

// Publisher receives every newly published resolved map.
type Publisher interface {
	PublishResolved(models.ResolvedUpdate)
}

// StoreReader is the read side of the state store.
type StoreReader interface {
	Snapshot() models.Snapshot
	Subscribe(fn func(store.Event)) func()
}

// Options configures a Manager.
type Options struct {
	FallbackInterval time.Duration
	Publisher        Publisher
	Logger           *log.Logger
}

// Session is the fetch loop of one subject.
type Session struct {
	Subject   string
	StartedAt time.Time

	fetcher   *variables.Fetcher
	templates map[string]string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// Info describes a running session.
type Info struct {
	Subject   string           `json:"subject"`
	Status    variables.Status `json:"status"`
	Fields    int              `json:"fields"`
	StartedAt time.Time        `json:"startedAt"`
}

// Manager owns the fetch sessions.
type Manager struct {
	getter variables.Getter
	store  StoreReader
	opts   Options
	logger *log.Logger

	mu          sync.RWMutex
	sessions    map[string]*Session
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// NewManager creates a manager. Call Start to begin fetching.
func NewManager(getter variables.Getter, st StoreReader, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		getter:   getter,
		store:    st,
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Start creates sessions for the current subjects and follows store changes.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.sync(m.store.Snapshot(), false)
	m.unsubscribe = m.store.Subscribe(m.onChange)
}

// Close stops every session and waits for their loops to exit.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.fetcher.Stop()
		<-s.done
	}
}

func (m *Manager) onChange(ev store.Event) {
	refetchAll := ev.Has(models.ConnectionsChanged) || ev.Has(models.DefaultConnectionChanged) || ev.Has(models.CanvasChanged)
	if ev.Has(models.BoxesChanged) || refetchAll {
		m.sync(m.store.Snapshot(), refetchAll)
	}
}

// sync starts sessions for new subjects, stops sessions of removed ones and triggers
// an early tick where templates changed.
func (m *Manager) sync(snap models.Snapshot, triggerAll bool) {
	want := make(map[string]map[string]string, len(snap.Boxes)+1)
	want[models.CanvasSubject] = snap.CanvasSettings.Templates()
	for _, b := range snap.Boxes {
		want[b.ID] = b.Templates()
	}

	m.mu.Lock()
	if m.ctx == nil || m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	var stopped []*Session
	for subject, s := range m.sessions {
		if _, ok := want[subject]; !ok {
			delete(m.sessions, subject)
			stopped = append(stopped, s)
		}
	}
	var started, triggered []*Session
	for subject, templates := range want {
		s, ok := m.sessions[subject]
		if !ok {
			s = m.newSession(m.ctx, subject, templates)
			m.sessions[subject] = s
			started = append(started, s)
			continue
		}
		if triggerAll || !maps.Equal(s.templates, templates) {
			s.templates = templates
			triggered = append(triggered, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stopped {
		m.logger.Debug("stopping session", "subject", shortID(s.Subject))
		s.fetcher.Stop()
		s.cancel()
	}
	for _, s := range started {
		m.publish(s.Subject, s.fetcher.Values(), s.fetcher.Status())
		go m.run(s)
	}
	for _, s := range triggered {
		s.fetcher.Trigger()
	}
}

func (m *Manager) newSession(ctx context.Context, subject string, templates map[string]string) *Session {
	s := &Session{
		Subject:   subject,
		StartedAt: time.Now(),
		templates: templates,
		done:      make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.fetcher = variables.NewFetcher(m.getter, m.source(subject), variables.FetcherOptions{
		FallbackInterval: m.opts.FallbackInterval,
		Logger:           m.logger.With("subject", shortID(subject)),
		OnPublish: func(values models.ResolvedMap) {
			m.publish(subject, values, s.fetcher.Status())
		},
		OnStatus: func(status variables.Status) {
			m.logger.Debug("connectivity changed", "subject", shortID(subject), "status", status)
		},
	})
	return s
}

// source reads the subject's templates from the store at the start of every tick.
func (m *Manager) source(subject string) variables.Source {
	return func() variables.Input {
		snap := m.store.Snapshot()
		in := variables.Input{
			DefaultURL:      snap.DefaultConnectionURL,
			Connections:     snap.Connections,
			RefreshInterval: time.Duration(snap.CanvasSettings.RefreshIntervalMs) * time.Millisecond,
		}
		if subject == models.CanvasSubject {
			in.Templates = snap.CanvasSettings.Templates()
		} else if i := snap.FindBox(subject); i >= 0 {
			in.Templates = snap.Boxes[i].Templates()
		}
		return in
	}
}

func (m *Manager) run(s *Session) {
	defer close(s.done)
	defer s.cancel()
	// A panicking fetch must not take the server down.
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("fetch session panicked", "subject", shortID(s.Subject), "panic", fmt.Sprint(r))
		}
	}()

	m.logger.Debug("starting session", "subject", shortID(s.Subject))
	s.fetcher.Run(s.ctx)
}

func (m *Manager) publish(subject string, values models.ResolvedMap, status variables.Status) {
	if m.opts.Publisher == nil {
		return
	}
	m.opts.Publisher.PublishResolved(models.ResolvedUpdate{
		Subject: subject,
		Values:  values,
		Status:  string(status),
	})
}

// Values returns the latest resolved map of a subject.
func (m *Manager) Values(subject string) (models.ResolvedMap, bool) {
	m.mu.RLock()
	s, ok := m.sessions[subject]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.fetcher.Values(), true
}

// All returns the latest resolved map of every subject.
func (m *Manager) All() map[string]models.ResolvedMap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.ResolvedMap, len(m.sessions))
	for subject, s := range m.sessions {
		out[subject] = s.fetcher.Values()
	}
	return out
}

// Sessions lists running sessions ordered by subject.
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Info{
			Subject:   s.Subject,
			Status:    s.fetcher.Status(),
			Fields:    len(s.templates),
			StartedAt: s.StartedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

// Status folds every session status into one connectivity signal: offline if any
// session is offline, else degraded if any is degraded, else online if any fetched,
// else idle.
func (m *Manager) Status() variables.Status {
	rank := map[variables.Status]int{
		variables.StatusIdle:     0,
		variables.StatusOnline:   1,
		variables.StatusDegraded: 2,
		variables.StatusOffline:  3,
	}
	worst := variables.StatusIdle
	for _, info := range m.Sessions() {
		if rank[info.Status] > rank[worst] {
			worst = info.Status
		}
	}
	return worst
}

// Refresh runs one tick of every session now and waits for them.
func (m *Manager) Refresh(ctx context.Context) {
	m.mu.RLock()
	fetchers := make([]*variables.Fetcher, 0, len(m.sessions))
	for _, s := range m.sessions {
		fetchers = append(fetchers, s.fetcher)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, f := range fetchers {
		wg.Add(1)
		go func(f *variables.Fetcher) {
			defer wg.Done()
			f.Refresh(ctx)
		}(f)
	}
	wg.Wait()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
