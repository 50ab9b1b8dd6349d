package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/companion-board/backend/internal/models"
	"github.com/companion-board/backend/internal/store"
)

const (
	writeWait         = 10 * time.Second
	defaultSendBuffer = 64
)

// Error codes sent to sockets in error messages.
const (
	ErrCodeReadOnly       = "READ_ONLY"
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeUnknownType    = "INVALID_TYPE"
)

// HubOptions configures a Hub.
type HubOptions struct {
	// Source returns the authoritative snapshot after a control socket's change is
	// applied. Without it the change is merged into the last pushed snapshot.
	Source     func() models.Snapshot
	SendBuffer int
	Logger     *log.Logger
}

// Hub is the local serving layer's socket fan-out. It holds the broadcast snapshot
// and the latest resolved values of every subject, and replays both to sockets as
// they connect.
type Hub struct {
	upgrader websocket.Upgrader
	opts     HubOptions
	logger   *log.Logger

	syncMu sync.RWMutex
	sync   SyncHandler

	mu       sync.RWMutex
	clients  map[*client]struct{}
	snapshot models.Snapshot
	resolved map[string]models.ResolvedUpdate
}

type client struct {
	conn    *websocket.Conn
	control bool
	send    chan []byte
	dropped bool
	// dragging is set between this socket's dragStart and dragEnd. Only the
	// socket's read goroutine touches it.
	dragging bool
}

// NewHub creates a hub broadcasting an empty board until the first Push.
func NewHub(opts HubOptions) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Display pages are opened from OBS and other local tools.
				return true
			},
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		opts:     opts,
		logger:   logger.WithPrefix("[WebSocket]"),
		clients:  make(map[*client]struct{}),
		snapshot: models.EmptySnapshot(),
		resolved: make(map[string]models.ResolvedUpdate),
	}
}

// SetSync installs the handler for control-socket changes. The hub and the sync
// bridge reference each other, so this is set after both exist.
func (h *Hub) SetSync(s SyncHandler) {
	h.syncMu.Lock()
	defer h.syncMu.Unlock()
	h.sync = s
}

func (h *Hub) syncHandler() SyncHandler {
	h.syncMu.RLock()
	defer h.syncMu.RUnlock()
	return h.sync
}

// Push replaces the broadcast snapshot and sends it to every socket.
func (h *Hub) Push(s models.Snapshot) {
	s = s.Clone()
	frame, err := encodeFrame(models.MsgTypeStateUpdate, s)
	if err != nil {
		h.logger.Error("failed to encode snapshot", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = s
	h.pruneResolved()
	h.broadcast(frame, nil)
}

// PublishResolved records the latest values of a subject and sends them to every
// socket.
func (h *Hub) PublishResolved(u models.ResolvedUpdate) {
	frame, err := encodeFrame(models.MsgTypeResolvedUpdate, u)
	if err != nil {
		h.logger.Error("failed to encode resolved values", "subject", u.Subject, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.resolved[u.Subject] = u
	h.broadcast(frame, nil)
}

// Snapshot returns the current broadcast snapshot.
func (h *Hub) Snapshot() models.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot.Clone()
}

// Clients returns the number of connected sockets.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every socket.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

// pruneResolved forgets values of boxes no longer on the board. Caller holds mu.
func (h *Hub) pruneResolved() {
	for subject := range h.resolved {
		if subject != models.CanvasSubject && h.snapshot.FindBox(subject) < 0 {
			delete(h.resolved, subject)
		}
	}
}

// broadcast queues frame on every socket except skip. Caller holds mu. A socket
// whose queue is full is disconnected instead of blocking everyone else.
func (h *Hub) broadcast(frame []byte, skip *client) {
	for c := range h.clients {
		if c == skip {
			continue
		}
		h.enqueue(c, frame)
	}
}

func (h *Hub) enqueue(c *client, frame []byte) {
	if c.dropped {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.dropped = true
		h.logger.Warn("dropping slow client", "remote", c.conn.RemoteAddr())
		c.conn.Close()
	}
}

// HandleDisplay serves the read-only socket of display pages.
func (h *Hub) HandleDisplay(c echo.Context) error {
	return h.serve(c, false)
}

// HandleControl serves the interactive socket of the control page.
func (h *Hub) HandleControl(c echo.Context) error {
	return h.serve(c, true)
}

func (h *Hub) serve(c echo.Context, control bool) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	cl := &client{conn: ws, control: control, send: make(chan []byte, h.opts.SendBuffer)}

	h.register(cl)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(cl)
	}()

	h.logger.Info("client connected", "remote", ws.RemoteAddr(), "control", control)
	h.readLoop(cl)

	h.unregister(cl)
	if cl.dragging {
		// A drag nobody can finish would hold back every outbound snapshot.
		if sh := h.syncHandler(); sh != nil {
			h.logger.Info("ending drag of disconnected client", "remote", ws.RemoteAddr())
			sh.EndDrag()
		}
	}
	<-done
	ws.Close()
	h.logger.Info("client disconnected", "remote", ws.RemoteAddr())
	return nil
}

// register adds the socket and queues its welcome, the snapshot and the resolved
// values under the same lock broadcasts take, so nothing newer can overtake them.
func (h *Hub) register(cl *client) {
	welcome, _ := encodeFrame(models.MsgTypeConnected, map[string]bool{"control": cl.control})

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[cl] = struct{}{}
	h.enqueue(cl, welcome)
	if snap, err := encodeFrame(models.MsgTypeStateUpdate, h.snapshot); err == nil {
		h.enqueue(cl, snap)
	}
	for _, u := range h.resolved {
		if frame, err := encodeFrame(models.MsgTypeResolvedUpdate, u); err == nil {
			h.enqueue(cl, frame)
		}
	}
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
}

func (h *Hub) writeLoop(cl *client) {
	for frame := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.logger.Debug("write failed", "remote", cl.conn.RemoteAddr(), "err", err)
			cl.conn.Close()
			// Drain so unregister never blocks a broadcaster.
			for range cl.send {
			}
			return
		}
	}
}

func (h *Hub) readLoop(cl *client) {
	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("connection error", "err", err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.replyError(cl, "invalid message: "+err.Error(), ErrCodeInvalidMessage)
			continue
		}
		h.handle(cl, env)
	}
}

func (h *Hub) handle(cl *client, env models.Envelope) {
	switch {
	case env.Type == models.MsgTypePing:
		h.reply(cl, models.MsgTypePong, nil)
		return
	case env.Type == models.MsgTypePong:
		return
	case !isControlMessage(env.Type):
		h.replyError(cl, "Unknown message type: "+env.Type, ErrCodeUnknownType)
		return
	case !cl.control:
		h.replyError(cl, "display sockets are read-only", ErrCodeReadOnly)
		return
	}

	sh := h.syncHandler()
	if sh == nil {
		h.replyError(cl, "board is not accepting changes", ErrCodeInvalidMessage)
		return
	}
	if err := sh.HandleEnvelope(env); err != nil {
		h.replyError(cl, err.Error(), ErrCodeInvalidMessage)
		return
	}
	switch env.Type {
	case models.MsgTypeDragStart:
		cl.dragging = true
		return
	case models.MsgTypeDragEnd:
		cl.dragging = false
		return
	}
	h.rebroadcast(cl, env)
}

// rebroadcast sends the board after a control socket's change to every other
// socket. The sender already has it, and the sync bridge skips the echo.
func (h *Hub) rebroadcast(sender *client, env models.Envelope) {
	var next models.Snapshot
	if h.opts.Source != nil {
		next = h.opts.Source()
	} else {
		changes, err := envelopeChanges(env)
		if err != nil {
			return
		}
		next = models.ApplyChanges(h.Snapshot(), changes)
	}
	frame, err := encodeFrame(models.MsgTypeStateUpdate, next)
	if err != nil {
		h.logger.Error("failed to encode snapshot", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = next.Clone()
	h.pruneResolved()
	h.broadcast(frame, sender)
}

func (h *Hub) reply(cl *client, msgType string, data any) {
	frame, err := encodeFrame(msgType, data)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; ok {
		h.enqueue(cl, frame)
	}
}

func (h *Hub) replyError(cl *client, message, code string) {
	h.logger.Debug("rejecting message", "remote", cl.conn.RemoteAddr(), "code", code, "message", message)
	h.reply(cl, models.MsgTypeError, models.ErrorPayload{Message: message, Code: code})
}

func isControlMessage(msgType string) bool {
	switch msgType {
	case models.MsgTypeStateChange, models.MsgTypeDragStart, models.MsgTypeDragEnd:
		return true
	}
	return models.IsChangeKind(msgType)
}

// envelopeChanges decodes the changes carried by a stateChange or tagged message.
func envelopeChanges(env models.Envelope) ([]models.Change, error) {
	if env.Type == models.MsgTypeStateChange {
		p, err := store.DecodeSnapshot(env.Data, false)
		if err != nil {
			return nil, err
		}
		return p.Changes(), nil
	}
	if !models.IsChangeKind(env.Type) {
		return nil, errors.New("not a change message")
	}
	c, err := store.DecodeChange(models.ChangeKind(env.Type), env.Data)
	if err != nil {
		return nil, err
	}
	return []models.Change{c}, nil
}

func encodeFrame(msgType string, data any) ([]byte, error) {
	env, err := models.NewEnvelope(msgType, ulid.Make().String(), data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
