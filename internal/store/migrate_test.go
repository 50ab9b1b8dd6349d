package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companion-board/backend/internal/models"
	"github.com/companion-board/backend/internal/storage"
)

func TestMigrateBox(t *testing.T) {
	t.Run("v1 flat box", func(t *testing.T) {
		raw := []byte(`{"id":"b1","x":10,"y":20,"width":120,"height":80,
			"headerText":"$(internal:time)","headerColor":"#111111","leftText":"L","rightColor":"#222222"}`)
		box, err := MigrateBox(raw, 1)
		require.NoError(t, err)

		assert.Equal(t, models.Frame{X: 10, Y: 20, Width: 120, Height: 80}, box.Frame)
		assert.Equal(t, "$(internal:time)", box.Header.Text)
		assert.Equal(t, "#111111", box.Header.Color)
		assert.Equal(t, "L", box.Left.Text)
		assert.Equal(t, "#222222", box.Right.Color)
		assert.True(t, box.Header.Visible)
		assert.Equal(t, models.DefaultHeaderSize, box.Header.FontSize)
		assert.Equal(t, models.DefaultAlign, box.Left.Align)
		assert.Equal(t, models.DefaultRatio, box.LeftRightRatio)
		assert.Equal(t, models.DefaultOpacity, box.Opacity)
		assert.NotNil(t, box.OpacityRules)
		assert.NotNil(t, box.Left.ColorRules)
	})

	t.Run("v2 keeps explicit values", func(t *testing.T) {
		raw := []byte(`{"id":"b2","frame":{"x":1,"y":2,"width":3,"height":4},
			"header":{"text":"H","visible":false,"fontSize":30,"align":"left"}}`)
		box, err := MigrateBox(raw, 2)
		require.NoError(t, err)
		assert.False(t, box.Header.Visible)
		assert.Equal(t, 30, box.Header.FontSize)
		assert.Equal(t, "left", box.Header.Align)
		assert.Equal(t, models.DefaultRatio, box.LeftRightRatio)
	})

	t.Run("current version clamps", func(t *testing.T) {
		box, err := MigrateBox([]byte(`{"id":"b3","leftRightRatio":-20}`), models.CurrentSchemaVersion)
		require.NoError(t, err)
		assert.Equal(t, 0.0, box.LeftRightRatio)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := MigrateBox([]byte(`[1,2]`), 1)
		assert.Error(t, err)
		_, err = MigrateBox([]byte(`null`), 1)
		assert.Error(t, err)
	})
}

func TestDecodeSnapshot(t *testing.T) {
	t.Run("missing boxes", func(t *testing.T) {
		_, err := DecodeSnapshot([]byte(`{"version":"1.0","fontFamily":"Arial"}`), true)
		assert.ErrorIs(t, err, models.ErrMissingBoxes)

		_, err = DecodeSnapshot([]byte(`{"boxes":null}`), true)
		assert.ErrorIs(t, err, models.ErrMissingBoxes)
	})

	t.Run("partial for stateChange", func(t *testing.T) {
		p, err := DecodeSnapshot([]byte(`{"locked":true}`), false)
		require.NoError(t, err)
		assert.Nil(t, p.Boxes)
		assert.Nil(t, p.CanvasSettings)
		require.NotNil(t, p.Locked)
		assert.True(t, *p.Locked)
		assert.Len(t, p.Changes(), 1)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := DecodeSnapshot([]byte(`{"boxes":`), true)
		assert.ErrorIs(t, err, ErrInvalidSnapshot)
	})

	t.Run("unversioned file is migrated", func(t *testing.T) {
		p, err := DecodeSnapshot([]byte(`{"boxes":[{"id":"a","leftText":"x"}],"canvasSettings":{"refreshIntervalMs":5}}`), true)
		require.NoError(t, err)
		require.Len(t, *p.Boxes, 1)
		assert.Equal(t, "x", (*p.Boxes)[0].Left.Text)
		assert.Equal(t, models.MinRefreshIntervalMs, p.CanvasSettings.RefreshIntervalMs)
	})
}

func TestLoadMigratesOnce(t *testing.T) {
	tier := storage.NewMemoryTier(0)
	require.NoError(t, tier.Set("inst:boxes", []byte(`[{"id":"old","headerText":"legacy"},{"broken":`)))
	kv := storage.NewKV("inst", tier, nil, nil)

	s, err := New(kv)
	require.NoError(t, err)
	snap := s.Snapshot()
	// The unreadable array is discarded as a whole.
	assert.Empty(t, snap.Boxes)

	require.NoError(t, tier.Set("inst:boxes", []byte(`[{"id":"old","headerText":"legacy"},{"id":7}]`)))
	require.NoError(t, tier.Delete("inst:schemaVersion"))
	s, err = New(kv)
	require.NoError(t, err)
	snap = s.Snapshot()
	require.Len(t, snap.Boxes, 1, "the box with a non-string id is skipped")
	assert.Equal(t, "legacy", snap.Boxes[0].Header.Text)

	version, ok, _ := tier.Get("inst:schemaVersion")
	require.True(t, ok)
	assert.Equal(t, "3", string(version))
}

func TestDecodeChange(t *testing.T) {
	partial := `{"id":"b1","frame":{"x":5,"y":6,"width":100,"height":50},"header":{"text":"Hi"}}`

	t.Run("tagged boxes match the snapshot path", func(t *testing.T) {
		tagged, err := DecodeChange(models.BoxesChanged, []byte(`[`+partial+`]`))
		require.NoError(t, err)
		p, err := DecodeSnapshot([]byte(`{"boxes":[`+partial+`]}`), false)
		require.NoError(t, err)

		require.Len(t, tagged.Boxes, 1)
		assert.Equal(t, *p.Boxes, tagged.Boxes)

		b := tagged.Boxes[0]
		assert.Equal(t, "Hi", b.Header.Text)
		assert.Equal(t, 100.0, b.Opacity)
		assert.Equal(t, models.DefaultRatio, b.LeftRightRatio)
		assert.True(t, b.Header.Visible)
		assert.Equal(t, models.DefaultBackground, b.Background.Color)
	})

	t.Run("tagged canvas keeps defaults", func(t *testing.T) {
		c, err := DecodeChange(models.CanvasChanged, []byte(`{"backgroundColor":"#101010"}`))
		require.NoError(t, err)
		want := models.DefaultCanvasSettings()
		want.BackgroundColor = "#101010"
		want.BackgroundColorRules = []models.VariableRule{}
		want.Normalize()
		assert.Equal(t, want, c.Canvas)
	})

	t.Run("other kinds and errors", func(t *testing.T) {
		c, err := DecodeChange(models.FontChanged, []byte(`"Mono"`))
		require.NoError(t, err)
		assert.Equal(t, "Mono", c.Text)

		_, err = DecodeChange(models.BoxesChanged, []byte(`[null]`))
		assert.Error(t, err)
		_, err = DecodeChange(models.BoxesChanged, []byte(`{"id":"b1"}`))
		assert.Error(t, err)
		_, err = DecodeChange(models.CanvasChanged, []byte(`null`))
		assert.Error(t, err)
	})
}
