// Package syncbridge keeps a local store and a remote peer convergent. Outbound,
// every committed store change becomes one full snapshot send unless a drag is in
// progress or the change is the echo of an inbound update. Inbound, partial updates
// are merged field by field into the store.
package syncbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/companion-board/backend/internal/models"
	"github.com/companion-board/backend/internal/store"
)

// ErrUnknownMessage is returned for inbound messages the bridge does not handle.
var ErrUnknownMessage = errors.New("unknown message type")

// Transport carries full snapshots to the peer.
type Transport interface {
	Send(models.Snapshot) error
}

// Store is the part of store.Store the bridge uses.
type Store interface {
	Snapshot() models.Snapshot
	Apply(origin store.Origin, changes ...models.Change) error
	Subscribe(fn func(store.Event)) func()
}

// State is the suppression state shared by the outbound and inbound paths.
type State struct {
	Dragging             bool `json:"dragging"`
	PendingWhileDragging bool `json:"pendingWhileDragging"`
	EchoGuard            bool `json:"echoGuard"`
}

// Stats counts what the bridge did with each change.
type Stats struct {
	Sent        int `json:"sent"`
	Coalesced   int `json:"coalesced"`
	EchoSkipped int `json:"echoSkipped"`
	Applied     int `json:"applied"`
	Dropped     int `json:"dropped"`
	Malformed   int `json:"malformed"`
}

// Bridge connects one store to one transport.
type Bridge struct {
	store     Store
	transport Transport
	logger    *log.Logger

	mu    sync.Mutex
	state State
	stats Stats

	// sendMu keeps snapshot sends in order.
	sendMu      sync.Mutex
	unsubscribe func()
}

// New creates a bridge. Call Start to begin forwarding store changes.
func New(st Store, tr Transport, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	return &Bridge{store: st, transport: tr, logger: logger}
}

// Start subscribes to store changes.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsubscribe == nil {
		b.unsubscribe = b.store.Subscribe(b.onChange)
	}
}

// Close stops forwarding store changes.
func (b *Bridge) Close() {
	b.mu.Lock()
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// State returns a copy of the suppression state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a copy of the counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Bridge) onChange(ev store.Event) {
	b.mu.Lock()
	switch {
	case b.state.Dragging:
		b.state.PendingWhileDragging = true
		b.stats.Coalesced++
		b.mu.Unlock()
		return
	case b.state.EchoGuard:
		// Cleared here rather than right after the apply, so the change the apply
		// itself produced is the one that is skipped.
		b.state.EchoGuard = false
		b.stats.EchoSkipped++
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.send()
}

func (b *Bridge) send() {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	if err := b.transport.Send(b.store.Snapshot()); err != nil {
		b.logger.Warn("failed to send snapshot", "err", err)
		return
	}
	b.mu.Lock()
	b.stats.Sent++
	b.mu.Unlock()
}

// BeginDrag suppresses outbound sends and inbound applies until EndDrag.
func (b *Bridge) BeginDrag() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Dragging = true
}

// EndDrag lifts drag suppression and sends one snapshot if anything changed
// during the drag.
func (b *Bridge) EndDrag() {
	b.mu.Lock()
	if !b.state.Dragging {
		b.mu.Unlock()
		return
	}
	pending := b.state.PendingWhileDragging
	b.state.Dragging = false
	b.state.PendingWhileDragging = false
	b.mu.Unlock()

	if pending {
		b.send()
	}
}

// HandleInbound merges a peer's partial update into the store. While dragging the
// update is dropped; local interaction wins.
func (b *Bridge) HandleInbound(changes []models.Change) error {
	if len(changes) == 0 {
		return nil
	}

	b.mu.Lock()
	if b.state.Dragging {
		b.stats.Dropped++
		b.mu.Unlock()
		b.logger.Debug("dropping inbound update during drag")
		return nil
	}
	b.state.EchoGuard = true
	b.mu.Unlock()

	if err := b.store.Apply(store.OriginRemote, changes...); err != nil {
		b.mu.Lock()
		b.state.EchoGuard = false
		b.mu.Unlock()
		return fmt.Errorf("applying inbound update: %w", err)
	}

	b.mu.Lock()
	b.stats.Applied++
	b.mu.Unlock()
	return nil
}

// HandleMessage decodes one WebSocket frame from the peer and acts on it.
// Malformed frames are logged, counted and returned as errors; they never change
// the store.
func (b *Bridge) HandleMessage(data []byte) error {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return b.malformed(fmt.Errorf("decoding envelope: %w", err))
	}
	return b.HandleEnvelope(env)
}

// HandleEnvelope acts on a decoded frame.
func (b *Bridge) HandleEnvelope(env models.Envelope) error {
	switch {
	case env.Type == models.MsgTypeStateChange || env.Type == models.MsgTypeStateUpdate:
		p, err := store.DecodeSnapshot(env.Data, false)
		if err != nil {
			return b.malformed(err)
		}
		return b.HandleInbound(p.Changes())
	case models.IsChangeKind(env.Type):
		c, err := store.DecodeChange(models.ChangeKind(env.Type), env.Data)
		if err != nil {
			return b.malformed(err)
		}
		return b.HandleInbound([]models.Change{c})
	case env.Type == models.MsgTypeDragStart:
		b.BeginDrag()
		return nil
	case env.Type == models.MsgTypeDragEnd:
		b.EndDrag()
		return nil
	case env.Type == models.MsgTypePing, env.Type == models.MsgTypePong,
		env.Type == models.MsgTypeConnected, env.Type == models.MsgTypeResolvedUpdate:
		return nil
	case env.Type == models.MsgTypeError:
		b.logger.Warn("peer reported an error", "data", string(env.Data))
		return nil
	}
	return b.malformed(fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type))
}

func (b *Bridge) malformed(err error) error {
	b.mu.Lock()
	b.stats.Malformed++
	b.mu.Unlock()
	b.logger.Warn("dropping malformed message", "err", err)
	return err
}
