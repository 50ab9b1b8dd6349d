// Package store holds the authoritative board state. Every mutation is serialized,
// written through to persistence before it returns, and announced to subscribers as
// an Event carrying the kinds of state that changed.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/companion-board/backend/internal/models"
)

var (
	ErrBoxNotFound        = errors.New("box not found")
	ErrConnectionNotFound = errors.New("connection not found")
)

// Persistence keys, namespaced by the KV.
const (
	KeyBoxes                = "boxes"
	KeyCanvasSettings       = "canvasSettings"
	KeyConnections          = "connections"
	KeyDefaultConnectionURL = "defaultConnectionUrl"
	KeyBackgroundImage      = "backgroundImage"
	KeyFontFamily           = "fontFamily"
	KeyLocked               = "locked"
	KeySchemaVersion        = "schemaVersion"
)

var kindKeys = map[models.ChangeKind]string{
	models.BoxesChanged:             KeyBoxes,
	models.CanvasChanged:            KeyCanvasSettings,
	models.ConnectionsChanged:       KeyConnections,
	models.DefaultConnectionChanged: KeyDefaultConnectionURL,
	models.BackgroundImageChanged:   KeyBackgroundImage,
	models.FontChanged:              KeyFontFamily,
	models.LockChanged:              KeyLocked,
}

// KV is the persistence the store writes through to. storage.KV implements it.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
}

// Origin tells subscribers where a change came from.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
	OriginImport Origin = "import"
	OriginReload Origin = "reload"
)

// Event announces one committed mutation.
type Event struct {
	Seq    uint64
	Kinds  []models.ChangeKind
	Origin Origin
}

// Has reports whether the event touched the given kind.
func (e Event) Has(kind models.ChangeKind) bool {
	for _, k := range e.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Store is the single writable copy of the board state.
type Store struct {
	mu     sync.Mutex
	kv     KV
	state  models.Snapshot
	seq    uint64
	logger *log.Logger
	newID  func() string

	// notifyMu is taken before mu is released so events are delivered in commit order.
	notifyMu sync.Mutex
	subMu    sync.Mutex
	subs     map[int]func(Event)
	nextSub  int
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the uuid generator used for new boxes and connections.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New loads the persisted state from kv, migrating it to the current schema once.
func New(kv KV, opts ...Option) (*Store, error) {
	s := &Store{
		kv:     kv,
		logger: log.Default(),
		newID:  uuid.NewString,
		subs:   make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}

	state, version, repaired, err := s.load()
	if err != nil {
		return nil, err
	}
	s.state = state

	switch {
	case version != models.CurrentSchemaVersion:
		s.logger.Info("migrating persisted state", "from", version, "to", models.CurrentSchemaVersion)
		if err := s.persist(state, models.ChangeKinds); err != nil {
			return nil, fmt.Errorf("persisting migrated state: %w", err)
		}
	case repaired:
		if err := s.persist(state, []models.ChangeKind{models.BoxesChanged}); err != nil {
			return nil, fmt.Errorf("persisting repaired boxes: %w", err)
		}
	}
	return s, nil
}

// load reads every key. A malformed value is logged and replaced by its default,
// a single bad box is skipped; only storage read failures are returned.
//
// repaired reports boxes that were stored without an id. They get an id derived
// from their position and content, so every load of the same data agrees on it.
func (s *Store) load() (state models.Snapshot, version int, repaired bool, err error) {
	state = models.EmptySnapshot()
	read := func(key string) ([]byte, bool, error) {
		v, ok, err := s.kv.Get(key)
		if err != nil {
			return nil, false, fmt.Errorf("reading %s: %w", key, err)
		}
		return v, ok, nil
	}

	version = models.CurrentSchemaVersion
	rawVersion, hasVersion, err := read(KeySchemaVersion)
	if err != nil {
		return state, 0, false, err
	}
	rawBoxes, hasBoxes, err := read(KeyBoxes)
	if err != nil {
		return state, 0, false, err
	}
	switch {
	case hasVersion:
		if err := json.Unmarshal(rawVersion, &version); err != nil {
			s.logger.Warn("unreadable schema version, assuming 1", "err", err)
			version = 1
		}
	case hasBoxes:
		// Data written before versioning.
		version = 1
	}

	if hasBoxes {
		var items []json.RawMessage
		if err := json.Unmarshal(rawBoxes, &items); err != nil {
			s.logger.Warn("discarding unreadable boxes", "err", err)
		}
		for i, item := range items {
			box, err := MigrateBox(item, version)
			if err != nil {
				s.logger.Warn("skipping unreadable box", "index", i, "err", err)
				continue
			}
			if box.ID == "" {
				box.ID = derivedID(i, item)
				repaired = true
			}
			state.Boxes = append(state.Boxes, box)
		}
	}

	if raw, ok, err := read(KeyCanvasSettings); err != nil {
		return state, 0, false, err
	} else if ok {
		if c, err := MigrateCanvas(raw); err != nil {
			s.logger.Warn("using default canvas settings", "err", err)
		} else {
			state.CanvasSettings = c
		}
	}

	if raw, ok, err := read(KeyConnections); err != nil {
		return state, 0, false, err
	} else if ok {
		var conns []models.Connection
		if err := json.Unmarshal(raw, &conns); err != nil {
			s.logger.Warn("discarding unreadable connections", "err", err)
		} else if conns != nil {
			state.Connections = conns
		}
	}

	for key, dst := range map[string]*string{
		KeyDefaultConnectionURL: &state.DefaultConnectionURL,
		KeyBackgroundImage:      &state.BackgroundImage,
		KeyFontFamily:           &state.FontFamily,
	} {
		raw, ok, err := read(key)
		if err != nil {
			return state, 0, false, err
		}
		if ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				s.logger.Warn("ignoring unreadable value", "key", key, "err", err)
			}
		}
	}
	if state.FontFamily == "" {
		state.FontFamily = models.DefaultFontFamily
	}

	if raw, ok, err := read(KeyLocked); err != nil {
		return state, 0, false, err
	} else if ok {
		if err := json.Unmarshal(raw, &state.Locked); err != nil {
			s.logger.Warn("ignoring unreadable lock flag", "err", err)
		}
	}
	return state, version, repaired, nil
}

func (s *Store) persist(state models.Snapshot, kinds []models.ChangeKind) error {
	for _, kind := range kinds {
		var v any
		switch kind {
		case models.BoxesChanged:
			v = state.Boxes
		case models.CanvasChanged:
			v = state.CanvasSettings
		case models.ConnectionsChanged:
			v = state.Connections
		case models.DefaultConnectionChanged:
			v = state.DefaultConnectionURL
		case models.BackgroundImageChanged:
			v = state.BackgroundImage
		case models.FontChanged:
			v = state.FontFamily
		case models.LockChanged:
			v = state.Locked
		default:
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", kind, err)
		}
		if err := s.kv.Set(kindKeys[kind], data); err != nil {
			return fmt.Errorf("persisting %s: %w", kindKeys[kind], err)
		}
	}
	version, _ := json.Marshal(models.CurrentSchemaVersion)
	if err := s.kv.Set(KeySchemaVersion, version); err != nil {
		return fmt.Errorf("persisting %s: %w", KeySchemaVersion, err)
	}
	return nil
}

// mutate runs fn on a copy of the state. When fn reports changed kinds, the copy is
// persisted, committed and announced. A failed write leaves the in-memory state
// untouched.
func (s *Store) mutate(origin Origin, fn func(next *models.Snapshot) ([]models.ChangeKind, error)) error {
	s.mu.Lock()
	next := s.state.Clone()
	kinds, err := fn(&next)
	if err != nil || len(kinds) == 0 {
		s.mu.Unlock()
		return err
	}
	if err := s.persist(next, kinds); err != nil {
		s.mu.Unlock()
		s.logger.Error("failed to persist state", "err", err)
		return err
	}
	s.state = next
	s.seq++
	ev := Event{Seq: s.seq, Kinds: kinds, Origin: origin}

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	s.notify(ev)
	return nil
}

// Subscribe registers fn for every committed change and returns a function that
// removes it. Events are delivered synchronously and in commit order; fn must not
// call mutating store operations from the delivering goroutine.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	// Subscription order.
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state.Clone()
	out.SchemaVersion = models.CurrentSchemaVersion
	out.Version = models.SnapshotFormatVersion
	return out
}

// Box returns a copy of one box.
func (s *Store) Box(id string) (models.Box, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.state.FindBox(id)
	if i < 0 {
		return models.Box{}, ErrBoxNotFound
	}
	return s.state.Boxes[i].Clone(), nil
}

// Seq returns the sequence number of the last committed change.
func (s *Store) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// CreateBox adds a box with default attributes and a fresh id on top of the others.
func (s *Store) CreateBox() (models.Box, error) {
	var created models.Box
	err := s.mutate(OriginLocal, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		created = models.NewBox(s.newID())
		created.ZIndex = topZ(next.Boxes) + 1
		next.Boxes = append(next.Boxes, created)
		return []models.ChangeKind{models.BoxesChanged}, nil
	})
	return created.Clone(), err
}

// UpdateBox replaces the record of box id. Unknown ids return ErrBoxNotFound and
// change nothing.
func (s *Store) UpdateBox(id string, box models.Box) (models.Box, error) {
	err := s.mutate(OriginLocal, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		i := next.FindBox(id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrBoxNotFound, id)
		}
		box = box.Clone()
		box.ID = id
		fillRuleSlices(&box)
		box.Normalize()
		next.Boxes[i] = box
		return []models.ChangeKind{models.BoxesChanged}, nil
	})
	if err != nil {
		return models.Box{}, err
	}
	return box.Clone(), nil
}

// DeleteBox removes box id.
func (s *Store) DeleteBox(id string) error {
	return s.mutate(OriginLocal, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		i := next.FindBox(id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrBoxNotFound, id)
		}
		next.Boxes = append(next.Boxes[:i], next.Boxes[i+1:]...)
		return []models.ChangeKind{models.BoxesChanged}, nil
	})
}

// DuplicateBox clones box id under a fresh id, offset by models.DuplicateOffset.
func (s *Store) DuplicateBox(id string) (models.Box, error) {
	var dup models.Box
	err := s.mutate(OriginLocal, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		i := next.FindBox(id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrBoxNotFound, id)
		}
		dup = next.Boxes[i].Clone()
		dup.ID = s.newID()
		dup.Frame.X += models.DuplicateOffset
		dup.Frame.Y += models.DuplicateOffset
		dup.ZIndex = topZ(next.Boxes) + 1
		dup.Normalize()
		next.Boxes = append(next.Boxes, dup)
		return []models.ChangeKind{models.BoxesChanged}, nil
	})
	return dup.Clone(), err
}

// ReplaceAll discards the current state and adopts the snapshot. Optional fields the
// snapshot leaves out take their defaults.
func (s *Store) ReplaceAll(p models.PartialSnapshot) error {
	if p.Boxes == nil {
		return models.ErrMissingBoxes
	}
	return s.mutate(OriginImport, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		*next = models.ApplyChanges(models.EmptySnapshot(), p.Changes())
		s.normalize(next)
		return models.ChangeKinds, nil
	})
}

// MergeAppend appends the snapshot's boxes under fresh ids, offset by
// models.DuplicateOffset, keeping the current canvas, connections and font.
// It returns the appended boxes.
func (s *Store) MergeAppend(p models.PartialSnapshot) ([]models.Box, error) {
	if p.Boxes == nil {
		return nil, models.ErrMissingBoxes
	}
	var added []models.Box
	err := s.mutate(OriginImport, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		z := topZ(next.Boxes)
		added = make([]models.Box, 0, len(*p.Boxes))
		for _, b := range *p.Boxes {
			b = b.Clone()
			b.ID = s.newID()
			b.Frame.X += models.DuplicateOffset
			b.Frame.Y += models.DuplicateOffset
			z++
			b.ZIndex = z
			fillRuleSlices(&b)
			b.Normalize()
			added = append(added, b)
			next.Boxes = append(next.Boxes, b)
		}
		return []models.ChangeKind{models.BoxesChanged}, nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// SetCanvas replaces the canvas settings.
func (s *Store) SetCanvas(c models.CanvasSettings) error {
	return s.mutate(OriginLocal, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		next.CanvasSettings = c.Clone()
		s.normalize(next)
		return []models.ChangeKind{models.CanvasChanged}, nil
	})
}

// SetConnections replaces the connection list. Templates keep their indices, so a
// shortened list leaves dangling indices that resolve to no value.
func (s *Store) SetConnections(conns []models.Connection) error {
	return s.mutate(OriginLocal, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		next.Connections = models.CloneConnections(conns)
		s.normalize(next)
		return []models.ChangeKind{models.ConnectionsChanged}, nil
	})
}

// AddConnection appends a connection and returns it with its id.
func (s *Store) AddConnection(label, url string) (models.Connection, error) {
	conn := models.Connection{Label: label, URL: url}
	err := s.mutate(OriginLocal, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		conn.ID = s.newID()
		next.Connections = append(next.Connections, conn)
		return []models.ChangeKind{models.ConnectionsChanged}, nil
	})
	return conn, err
}

// RemoveConnection removes connection id.
func (s *Store) RemoveConnection(id string) error {
	return s.mutate(OriginLocal, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		for i, c := range next.Connections {
			if c.ID == id {
				next.Connections = append(next.Connections[:i], next.Connections[i+1:]...)
				return []models.ChangeKind{models.ConnectionsChanged}, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	})
}

// SetDefaultConnectionURL sets the url of connection 0.
func (s *Store) SetDefaultConnectionURL(url string) error {
	return s.mutate(OriginLocal, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		next.DefaultConnectionURL = url
		return []models.ChangeKind{models.DefaultConnectionChanged}, nil
	})
}

// SetBackgroundImage sets the canvas background image data URI.
func (s *Store) SetBackgroundImage(dataURI string) error {
	return s.mutate(OriginLocal, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		next.BackgroundImage = dataURI
		return []models.ChangeKind{models.BackgroundImageChanged}, nil
	})
}

// SetFont sets the board font family; an empty name restores the default.
func (s *Store) SetFont(family string) error {
	return s.mutate(OriginLocal, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		next.FontFamily = family
		s.normalize(next)
		return []models.ChangeKind{models.FontChanged}, nil
	})
}

// SetLocked sets the edit lock.
func (s *Store) SetLocked(locked bool) error {
	return s.mutate(OriginLocal, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		next.Locked = locked
		return []models.ChangeKind{models.LockChanged}, nil
	})
}

// Apply merges tagged partial updates field by field. State not named by any
// change is left alone.
func (s *Store) Apply(origin Origin, changes ...models.Change) error {
	if len(changes) == 0 {
		return nil
	}
	return s.mutate(origin, func(next *models.Snapshot) ([]models.ChangeKind, error) {
		*next = models.ApplyChanges(*next, changes)
		s.normalize(next)
		return distinctKinds(changes), nil
	})
}

// Reload re-reads persistence after another process wrote it and announces the
// kinds that actually differ.
func (s *Store) Reload() error {
	s.mu.Lock()
	loaded, _, _, err := s.load()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	kinds := diffKinds(s.state, loaded)
	if len(kinds) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.state = loaded
	s.seq++
	ev := Event{Seq: s.seq, Kinds: kinds, Origin: OriginReload}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	s.notify(ev)
	return nil
}

func derivedID(index int, raw []byte) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%d:%s", index, raw)).String()
}

func (s *Store) normalize(next *models.Snapshot) {
	for i := range next.Boxes {
		if next.Boxes[i].ID == "" {
			next.Boxes[i].ID = s.newID()
		}
		fillRuleSlices(&next.Boxes[i])
		next.Boxes[i].Normalize()
	}
	if next.CanvasSettings.BackgroundColorRules == nil {
		next.CanvasSettings.BackgroundColorRules = []models.VariableRule{}
	}
	next.CanvasSettings.Normalize()
	for i := range next.Connections {
		if next.Connections[i].ID == "" {
			next.Connections[i].ID = s.newID()
		}
	}
	if next.FontFamily == "" {
		next.FontFamily = models.DefaultFontFamily
	}
}

func topZ(boxes []models.Box) int {
	z := 0
	for _, b := range boxes {
		if b.ZIndex > z {
			z = b.ZIndex
		}
	}
	return z
}

func distinctKinds(changes []models.Change) []models.ChangeKind {
	seen := make(map[models.ChangeKind]bool, len(changes))
	var out []models.ChangeKind
	for _, c := range changes {
		if !seen[c.Kind] {
			seen[c.Kind] = true
			out = append(out, c.Kind)
		}
	}
	return out
}

func diffKinds(a, b models.Snapshot) []models.ChangeKind {
	var out []models.ChangeKind
	if !reflect.DeepEqual(a.Boxes, b.Boxes) {
		out = append(out, models.BoxesChanged)
	}
	if !reflect.DeepEqual(a.CanvasSettings, b.CanvasSettings) {
		out = append(out, models.CanvasChanged)
	}
	if !reflect.DeepEqual(a.Connections, b.Connections) {
		out = append(out, models.ConnectionsChanged)
	}
	if a.DefaultConnectionURL != b.DefaultConnectionURL {
		out = append(out, models.DefaultConnectionChanged)
	}
	if a.BackgroundImage != b.BackgroundImage {
		out = append(out, models.BackgroundImageChanged)
	}
	if a.FontFamily != b.FontFamily {
		out = append(out, models.FontChanged)
	}
	if a.Locked != b.Locked {
		out = append(out, models.LockChanged)
	}
	return out
}
