package syncbridge

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companion-board/backend/internal/models"
	"github.com/companion-board/backend/internal/storage"
	"github.com/companion-board/backend/internal/store"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []models.Snapshot
}

func (r *recordingTransport) Send(s models.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, s)
	return nil
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func newBridge(t *testing.T) (*Bridge, *store.Store, *recordingTransport) {
	t.Helper()
	st, err := store.New(storage.NewKV("test", storage.NewMemoryTier(0), nil, nil))
	require.NoError(t, err)
	tr := &recordingTransport{}
	b := New(st, tr, nil)
	b.Start()
	t.Cleanup(b.Close)
	return b, st, tr
}

func TestOutbound(t *testing.T) {
	b, st, tr := newBridge(t)

	_, err := st.CreateBox()
	require.NoError(t, err)
	require.NoError(t, st.SetLocked(true))

	assert.Equal(t, 2, tr.count())
	assert.True(t, tr.sent[1].Locked, "each send carries the full current snapshot")
	assert.Len(t, tr.sent[1].Boxes, 1)
	assert.Equal(t, 2, b.Stats().Sent)
}

func TestDragSuppression(t *testing.T) {
	t.Run("coalesces changes into one send", func(t *testing.T) {
		b, st, tr := newBridge(t)
		box, _ := st.CreateBox()
		before := tr.count()

		b.BeginDrag()
		for i := 0; i < 10; i++ {
			box.Frame.X += 5
			_, err := st.UpdateBox(box.ID, box)
			require.NoError(t, err)
		}
		assert.Equal(t, before, tr.count(), "no sends while dragging")
		assert.True(t, b.State().PendingWhileDragging)

		b.EndDrag()
		require.Equal(t, before+1, tr.count())
		assert.Equal(t, box.Frame.X, tr.sent[before].Boxes[0].Frame.X)
		assert.Equal(t, State{}, b.State())
	})

	t.Run("no send when nothing changed", func(t *testing.T) {
		b, _, tr := newBridge(t)
		b.BeginDrag()
		b.EndDrag()
		b.EndDrag()
		assert.Equal(t, 0, tr.count())
	})

	t.Run("inbound dropped while dragging", func(t *testing.T) {
		b, st, _ := newBridge(t)
		b.BeginDrag()
		err := b.HandleInbound([]models.Change{{Kind: models.FontChanged, Text: "Remote"}})
		require.NoError(t, err)
		assert.Equal(t, models.DefaultFontFamily, st.Snapshot().FontFamily)
		assert.Equal(t, 1, b.Stats().Dropped)
		assert.False(t, b.State().EchoGuard)
	})
}

func TestEchoGuard(t *testing.T) {
	b, st, tr := newBridge(t)

	require.NoError(t, b.HandleInbound([]models.Change{{Kind: models.FontChanged, Text: "Remote"}}))
	assert.Equal(t, "Remote", st.Snapshot().FontFamily)
	assert.Equal(t, 0, tr.count(), "the applied update is not echoed back")
	assert.False(t, b.State().EchoGuard, "guard is consumed by the echo")

	require.NoError(t, st.SetLocked(true))
	assert.Equal(t, 1, tr.count(), "later local changes are sent")
}

func TestPartialMerge(t *testing.T) {
	b, st, _ := newBridge(t)
	require.NoError(t, st.SetCanvas(models.CanvasSettings{BackgroundColor: "#ff00ff", RefreshIntervalMs: 750}))

	msg := `{"type":"stateChange","data":{"boxes":[{"id":"peer-1","header":{"text":"from peer"}}]}}`
	require.NoError(t, b.HandleMessage([]byte(msg)))

	snap := st.Snapshot()
	require.Len(t, snap.Boxes, 1)
	assert.Equal(t, "from peer", snap.Boxes[0].Header.Text)
	assert.True(t, snap.Boxes[0].Left.Visible, "missing attributes take defaults")
	assert.Equal(t, "#ff00ff", snap.CanvasSettings.BackgroundColor)
	assert.Equal(t, 750, snap.CanvasSettings.RefreshIntervalMs)
}

func TestTaggedMessages(t *testing.T) {
	b, st, _ := newBridge(t)

	env, err := models.NewEnvelope(string(models.LockChanged), "", true)
	require.NoError(t, err)
	require.NoError(t, b.HandleEnvelope(env))
	assert.True(t, st.Snapshot().Locked)

	conns := []models.Connection{{ID: "c1", Label: "a", URL: "http://a"}}
	env, _ = models.NewEnvelope(string(models.ConnectionsChanged), "", conns)
	require.NoError(t, b.HandleEnvelope(env))
	assert.Equal(t, conns, st.Snapshot().Connections)

	require.NoError(t, b.HandleMessage([]byte(`{"type":"boxesChanged","data":[{"id":"b1","header":{"text":"Hi"}}]}`)))
	boxes := st.Snapshot().Boxes
	require.Len(t, boxes, 1)
	assert.Equal(t, "Hi", boxes[0].Header.Text)
	assert.Equal(t, 100.0, boxes[0].Opacity, "fields the peer left out take their defaults")
	assert.Equal(t, models.DefaultRatio, boxes[0].LeftRightRatio)
	assert.True(t, boxes[0].Left.Visible)

	env, _ = models.NewEnvelope(models.MsgTypeDragStart, "", nil)
	require.NoError(t, b.HandleEnvelope(env))
	assert.True(t, b.State().Dragging)
	env, _ = models.NewEnvelope(models.MsgTypeDragEnd, "", nil)
	require.NoError(t, b.HandleEnvelope(env))
	assert.False(t, b.State().Dragging)
}

func TestMalformed(t *testing.T) {
	b, st, tr := newBridge(t)
	before := st.Snapshot()

	frames := []string{
		`not json`,
		`{"type":"stateChange","data":{"boxes":"nope"}}`,
		`{"type":"lockChanged","data":"yes"}`,
		`{"type":"teleport","data":{}}`,
	}
	for _, f := range frames {
		assert.Error(t, b.HandleMessage([]byte(f)), f)
	}
	assert.Equal(t, before, st.Snapshot())
	assert.Equal(t, len(frames), b.Stats().Malformed)
	assert.False(t, b.State().EchoGuard)
	assert.Equal(t, 0, tr.count())

	var env models.Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"type":"ping"}`), &env))
	assert.NoError(t, b.HandleEnvelope(env))
}

type pusherFunc func(models.Snapshot)

func (f pusherFunc) Push(s models.Snapshot) { f(s) }

func TestHubTransport(t *testing.T) {
	var got []models.Snapshot
	tr := HubTransport{Hub: pusherFunc(func(s models.Snapshot) { got = append(got, s) })}
	require.NoError(t, tr.Send(models.EmptySnapshot()))
	assert.Len(t, got, 1)
}
