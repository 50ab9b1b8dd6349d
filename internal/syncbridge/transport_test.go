package syncbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companion-board/backend/internal/models"
)

// echoServer accepts sockets, records received frames and can drop every connection.
type echoServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received chan models.Envelope
}

func newEchoServer(t *testing.T) *echoServer {
	s := &echoServer{received: make(chan models.Envelope, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		hello, _ := models.NewEnvelope(models.MsgTypeConnected, "", nil)
		conn.WriteJSON(hello)
		for {
			var env models.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			s.received <- env
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *echoServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *echoServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func waitState(t *testing.T, c *WSClient, want ConnState) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, 3*time.Second, 10*time.Millisecond,
		"state %s never reached", want)
}

func TestWSClientLifecycle(t *testing.T) {
	srv := newEchoServer(t)

	var statesMu sync.Mutex
	var states []ConnState
	messages := make(chan []byte, 16)
	client := NewWSClient(srv.wsURL(), WSClientOptions{
		RetryInterval: 50 * time.Millisecond,
		OnMessage:     func(b []byte) { messages <- b },
		OnState: func(s ConnState) {
			statesMu.Lock()
			states = append(states, s)
			statesMu.Unlock()
		},
	})

	assert.Equal(t, Disconnected, client.State())
	require.NoError(t, client.Send(models.EmptySnapshot()), "send while disconnected is a no-op")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	waitState(t, client, Connected)
	select {
	case raw := <-messages:
		var env models.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, models.MsgTypeConnected, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no welcome message")
	}

	snap := models.EmptySnapshot()
	snap.FontFamily = "Mono"
	require.NoError(t, client.Send(snap))
	select {
	case env := <-srv.received:
		assert.Equal(t, models.MsgTypeStateChange, env.Type)
		assert.NotEmpty(t, env.ID)
		assert.Contains(t, string(env.Data), `"fontFamily":"Mono"`)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the snapshot")
	}

	// The client reconnects on its fixed interval after the server drops it.
	srv.dropAll()
	require.Eventually(t, func() bool {
		statesMu.Lock()
		defer statesMu.Unlock()
		connected := 0
		for _, s := range states {
			if s == Connected {
				connected++
			}
		}
		return connected >= 2
	}, 3*time.Second, 10*time.Millisecond, "client did not reconnect")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	statesMu.Lock()
	defer statesMu.Unlock()
	assert.Equal(t, []ConnState{Connecting, Connected}, states[:2])
}

func TestWSClientRetriesUnreachable(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	client := NewWSClient("ws://127.0.0.1:1/control", WSClientOptions{
		RetryInterval: 20 * time.Millisecond,
		OnState: func(s ConnState) {
			if s == Connecting {
				mu.Lock()
				attempts++
				mu.Unlock()
			}
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	client.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, attempts, 3)
	assert.Equal(t, Disconnected, client.State())
}
