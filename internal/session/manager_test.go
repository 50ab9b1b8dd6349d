package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companion-board/backend/internal/models"
	"github.com/companion-board/backend/internal/storage"
	"github.com/companion-board/backend/internal/store"
	"github.com/companion-board/backend/internal/testutil"
	"github.com/companion-board/backend/internal/variables"
)

type recordingPublisher struct {
	mu      sync.Mutex
	updates []models.ResolvedUpdate
}

func (p *recordingPublisher) PublishResolved(u models.ResolvedUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
}

func (p *recordingPublisher) latest(subject string) (models.ResolvedUpdate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.updates) - 1; i >= 0; i-- {
		if p.updates[i].Subject == subject {
			return p.updates[i], true
		}
	}
	return models.ResolvedUpdate{}, false
}

func setup(t *testing.T) (*Manager, *store.Store, *testutil.Companion, *recordingPublisher) {
	t.Helper()
	companion := testutil.NewCompanion(t)
	st, err := store.New(storage.NewKV("test", storage.NewMemoryTier(0), nil, nil))
	require.NoError(t, err)
	require.NoError(t, st.SetDefaultConnectionURL(companion.URL))
	require.NoError(t, st.SetCanvas(models.CanvasSettings{RefreshIntervalMs: models.MinRefreshIntervalMs}))

	pub := &recordingPublisher{}
	m := NewManager(variables.NewClient(variables.ClientOptions{}), st, Options{
		FallbackInterval: 50 * time.Millisecond,
		Publisher:        pub,
	})
	m.Start(context.Background())
	t.Cleanup(m.Close)
	return m, st, companion, pub
}

func TestManagerFollowsBoxes(t *testing.T) {
	m, st, companion, pub := setup(t)
	companion.Set("custom", "x", "42")

	box, err := st.CreateBox()
	require.NoError(t, err)
	box.Header.Text = "Value: $(custom:x)"
	_, err = st.UpdateBox(box.ID, box)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		u, ok := pub.latest(box.ID)
		return ok && u.Values.Plain(models.TextField("header")) == "Value: 42"
	}, 3*time.Second, 20*time.Millisecond)

	values, ok := m.Values(box.ID)
	require.True(t, ok)
	assert.Equal(t, "Value: 42", values.Plain("header.text"))

	subjects := []string{}
	for _, info := range m.Sessions() {
		subjects = append(subjects, info.Subject)
	}
	assert.ElementsMatch(t, []string{models.CanvasSubject, box.ID}, subjects)

	require.NoError(t, st.DeleteBox(box.ID))
	_, ok = m.Values(box.ID)
	assert.False(t, ok, "session of a deleted box is stopped")
}

func TestManagerLiteralFirstPaint(t *testing.T) {
	_, st, companion, pub := setup(t)
	companion.SetDelay(500 * time.Millisecond)

	box := models.NewBox("b1")
	box.Left.Text = "Temp: $(internal:temp)°"
	require.NoError(t, st.Apply(store.OriginRemote, models.Change{Kind: models.BoxesChanged, Boxes: []models.Box{box}}))

	// Published synchronously from the store event, before any response arrives.
	u, ok := pub.latest(box.ID)
	require.True(t, ok)
	assert.Equal(t, "Temp: °", u.Values.Plain("left.text"))
}

func TestManagerStatus(t *testing.T) {
	m, st, companion, _ := setup(t)
	companion.Set("custom", "ok", "1")

	box, _ := st.CreateBox()
	box.Left.Text = "$(custom:ok)"
	box.Right.Text = "$(custom:missing)"
	_, err := st.UpdateBox(box.ID, box)
	require.NoError(t, err)

	m.Refresh(context.Background())
	assert.Equal(t, variables.StatusDegraded, m.Status())

	require.NoError(t, st.SetDefaultConnectionURL(""))
	m.Refresh(context.Background())
	assert.Equal(t, variables.StatusOffline, m.Status())
}
