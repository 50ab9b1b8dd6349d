package syncbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/companion-board/backend/internal/models"
)

// Pusher is the in-process state-push entry point of the serving layer.
type Pusher interface {
	Push(models.Snapshot)
}

// HubTransport delivers snapshots to a serving layer in the same process.
type HubTransport struct {
	Hub Pusher
}

func (t HubTransport) Send(s models.Snapshot) error {
	t.Hub.Push(s)
	return nil
}

// ConnState is the lifecycle of a WSClient connection.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

// DefaultRetryInterval is the fixed delay between reconnect attempts.
const DefaultRetryInterval = 2 * time.Second

const writeWait = 5 * time.Second

// WSClientOptions configures a WSClient.
type WSClientOptions struct {
	RetryInterval time.Duration
	Header        http.Header
	// OnMessage receives every frame read from the server.
	OnMessage func([]byte)
	// OnState is called on every lifecycle transition.
	OnState func(ConnState)
	Logger  *log.Logger
}

// WSClient is a reconnecting WebSocket transport to a serving layer's /control path.
type WSClient struct {
	url    string
	opts   WSClientOptions
	dialer *websocket.Dialer
	logger *log.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	state ConnState

	writeMu sync.Mutex
}

// NewWSClient creates a client for url (ws:// or wss://).
func NewWSClient(url string, opts WSClientOptions) *WSClient {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &WSClient{
		url:    url,
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		logger: logger,
	}
}

// State returns the current lifecycle state.
func (c *WSClient) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *WSClient) setState(s ConnState, conn *websocket.Conn) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.conn = conn
	c.mu.Unlock()
	if changed && c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

// Run connects and keeps reconnecting at the fixed retry interval until ctx is done.
func (c *WSClient) Run(ctx context.Context) error {
	for {
		c.setState(Connecting, nil)
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.opts.Header)
		if err != nil {
			c.setState(Disconnected, nil)
			c.logger.Debug("dial failed", "url", c.url, "err", err)
		} else {
			c.setState(Connected, conn)
			c.logger.Info("connected", "url", c.url)
			c.readLoop(ctx, conn)
			c.setState(Disconnected, nil)
			c.logger.Info("disconnected", "url", c.url)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.RetryInterval):
		}
	}
}

func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				c.logger.Warn("connection error", "err", err)
			}
			return
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(data)
		}
	}
}

// Send sends a full snapshot as a stateChange message. While not connected it does
// nothing.
func (c *WSClient) Send(s models.Snapshot) error {
	return c.SendMessage(models.MsgTypeStateChange, s)
}

// SendMessage sends an envelope of the given type. While not connected it does
// nothing.
func (c *WSClient) SendMessage(msgType string, data any) error {
	env, err := models.NewEnvelope(msgType, ulid.Make().String(), data)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msgType, err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msgType, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		// The read loop notices the broken connection and reconnects.
		c.logger.Debug("write on closed connection ignored", "err", err)
	}
	return nil
}
