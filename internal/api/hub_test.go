package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companion-board/backend/internal/models"
	"github.com/companion-board/backend/internal/store"
	"github.com/companion-board/backend/internal/syncbridge"
)

type hubFixture struct {
	store  *store.Store
	hub    *Hub
	bridge *syncbridge.Bridge
	server *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	st := newTestStore(t)
	hub := NewHub(HubOptions{Source: st.Snapshot})
	bridge := syncbridge.New(st, syncbridge.HubTransport{Hub: hub}, nil)
	bridge.Start()
	hub.SetSync(bridge)
	hub.Push(st.Snapshot())

	e := echo.New()
	RegisterWebSocketRoutes(e, &Handlers{Hub: hub})
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		bridge.Close()
	})
	return &hubFixture{store: st, hub: hub, bridge: bridge, server: srv}
}

func (f *hubFixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	assert.Equal(t, models.MsgTypeConnected, next(t, conn).Type)
	assert.Equal(t, models.MsgTypeStateUpdate, next(t, conn).Type)
	return conn
}

func next(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env models.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	env, err := models.NewEnvelope(msgType, "", data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

// expectPong sends a ping and requires the pong to be the next frame, which proves
// nothing else was queued for the socket before it.
func expectPong(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, models.MsgTypePing, nil)
	assert.Equal(t, models.MsgTypePong, next(t, conn).Type)
}

func snapshotOf(t *testing.T, env models.Envelope) models.Snapshot {
	t.Helper()
	require.Equal(t, models.MsgTypeStateUpdate, env.Type)
	var s models.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s
}

func errorOf(t *testing.T, env models.Envelope) models.ErrorPayload {
	t.Helper()
	require.Equal(t, models.MsgTypeError, env.Type)
	var p models.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

func TestHub_DisplayIsReadOnly(t *testing.T) {
	f := newHubFixture(t)
	display := f.dial(t, "/")

	send(t, display, models.MsgTypeStateChange, map[string]any{"fontFamily": "Mono"})
	assert.Equal(t, ErrCodeReadOnly, errorOf(t, next(t, display)).Code)

	send(t, display, string(models.LockChanged), true)
	assert.Equal(t, ErrCodeReadOnly, errorOf(t, next(t, display)).Code)

	assert.Equal(t, models.DefaultFontFamily, f.store.Snapshot().FontFamily)
	assert.False(t, f.store.Snapshot().Locked)
}

func TestHub_ControlChangeIsRebroadcast(t *testing.T) {
	f := newHubFixture(t)
	display := f.dial(t, "/")
	control := f.dial(t, "/control")

	send(t, control, models.MsgTypeStateChange, map[string]any{"fontFamily": "Mono"})

	got := snapshotOf(t, next(t, display))
	assert.Equal(t, "Mono", got.FontFamily)
	assert.Equal(t, "Mono", f.store.Snapshot().FontFamily)
	assert.Equal(t, 1, f.bridge.Stats().EchoSkipped)
	expectPong(t, control)

	t.Run("tagged variant", func(t *testing.T) {
		send(t, control, string(models.BoxesChanged), []models.Box{models.NewBox("b1")})
		got := snapshotOf(t, next(t, display))
		require.Len(t, got.Boxes, 1)
		assert.Equal(t, "b1", got.Boxes[0].ID)
		assert.Equal(t, "Mono", got.FontFamily, "fields the change does not name are kept")
		expectPong(t, control)
	})

	t.Run("malformed", func(t *testing.T) {
		send(t, control, string(models.LockChanged), "yes")
		assert.Equal(t, ErrCodeInvalidMessage, errorOf(t, next(t, control)).Code)

		send(t, control, "reticulate", nil)
		assert.Equal(t, ErrCodeUnknownType, errorOf(t, next(t, control)).Code)

		require.NoError(t, control.WriteMessage(websocket.TextMessage, []byte("{not json")))
		assert.Equal(t, ErrCodeInvalidMessage, errorOf(t, next(t, control)).Code)
		expectPong(t, display)
	})
}

func TestHub_LocalChangesReachEveryone(t *testing.T) {
	f := newHubFixture(t)
	display := f.dial(t, "/")
	control := f.dial(t, "/control")

	require.NoError(t, f.store.SetLocked(true))
	assert.True(t, snapshotOf(t, next(t, display)).Locked)
	assert.True(t, snapshotOf(t, next(t, control)).Locked)
	assert.Equal(t, 2, f.hub.Clients())
}

func TestHub_DragSuppression(t *testing.T) {
	f := newHubFixture(t)
	display := f.dial(t, "/")
	control := f.dial(t, "/control")

	send(t, control, models.MsgTypeDragStart, nil)
	expectPong(t, control)
	require.True(t, f.bridge.State().Dragging)

	require.NoError(t, f.store.SetFont("A"))
	require.NoError(t, f.store.SetFont("B"))
	expectPong(t, display)

	send(t, control, models.MsgTypeDragEnd, nil)
	assert.Equal(t, "B", snapshotOf(t, next(t, display)).FontFamily, "one snapshot after the drag")
	assert.Equal(t, "B", snapshotOf(t, next(t, control)).FontFamily)
	expectPong(t, display)
}

func TestHub_DragEndsWhenControlDisconnects(t *testing.T) {
	f := newHubFixture(t)
	display := f.dial(t, "/")
	control := f.dial(t, "/control")

	send(t, control, models.MsgTypeDragStart, nil)
	expectPong(t, control)
	require.True(t, f.bridge.State().Dragging)

	require.NoError(t, f.store.SetFont("DuringDrag"))
	expectPong(t, display)

	require.NoError(t, control.Close())
	require.Eventually(t, func() bool { return !f.bridge.State().Dragging }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "DuringDrag", snapshotOf(t, next(t, display)).FontFamily, "the held back change is flushed")

	require.NoError(t, f.store.SetFont("AfterDisconnect"))
	assert.Equal(t, "AfterDisconnect", snapshotOf(t, next(t, display)).FontFamily)
}

func TestHub_ResolvedValues(t *testing.T) {
	f := newHubFixture(t)
	display := f.dial(t, "/")

	update := models.ResolvedUpdate{
		Subject: models.CanvasSubject,
		Values:  models.ResolvedMap{"background.text": {Plain: "live", HTML: "live"}},
		Status:  "online",
	}
	f.hub.PublishResolved(update)

	env := next(t, display)
	require.Equal(t, models.MsgTypeResolvedUpdate, env.Type)
	var got models.ResolvedUpdate
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, update, got)

	t.Run("replayed to new sockets", func(t *testing.T) {
		late := f.dial(t, "/")
		assert.Equal(t, models.MsgTypeResolvedUpdate, next(t, late).Type)
	})

	t.Run("values of deleted boxes are dropped", func(t *testing.T) {
		f.hub.PublishResolved(models.ResolvedUpdate{Subject: "gone", Values: models.ResolvedMap{}})
		f.hub.Push(f.store.Snapshot())

		f.hub.mu.RLock()
		defer f.hub.mu.RUnlock()
		assert.Contains(t, f.hub.resolved, models.CanvasSubject)
		assert.NotContains(t, f.hub.resolved, "gone")
	})
}

type fakePages struct{}

func (fakePages) HandleDisplayPage(c echo.Context) error { return c.String(http.StatusOK, "display") }
func (fakePages) HandleControlPage(c echo.Context) error { return c.String(http.StatusOK, "control") }

func TestRegisterWebSocketRoutes_Pages(t *testing.T) {
	e := echo.New()
	RegisterWebSocketRoutes(e, &Handlers{Hub: NewHub(HubOptions{}), Pages: fakePages{}})

	for path, want := range map[string]string{"/": "display", "/control": "control"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, want, rec.Body.String())
	}

	e = echo.New()
	e.HTTPErrorHandler = NewErrorHandler(false)
	RegisterWebSocketRoutes(e, &Handlers{Hub: NewHub(HubOptions{})})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
