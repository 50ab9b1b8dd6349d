package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companion-board/backend/internal/config"
	"github.com/companion-board/backend/internal/logging"
	"github.com/companion-board/backend/internal/models"
	"github.com/companion-board/backend/internal/snapshotio"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	return newApp().Run(context.Background(), append([]string{"companion-board"}, args...))
}

func TestImportExport(t *testing.T) {
	for _, k := range []string{"PORT", "DATA_DIR", "INSTANCE_ID", "COMPANION_URL", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "board.toml")

	in := models.EmptySnapshot()
	b := models.NewBox("b1")
	b.Header.Text = "$(custom:title)"
	in.Boxes = []models.Box{b}
	in.FontFamily = "Mono"
	data, err := json.Marshal(in)
	require.NoError(t, err)
	src := filepath.Join(dir, "in.json")
	require.NoError(t, os.WriteFile(src, data, 0644))

	require.NoError(t, run(t, "-c", cfgPath, "--log-level", "error", "import", "--policy", "replace", src))
	require.NoError(t, run(t, "-c", cfgPath, "--log-level", "error", "import", "--policy", "append", src))

	out := filepath.Join(dir, "out.yaml")
	require.NoError(t, run(t, "-c", cfgPath, "--log-level", "error", "export", "-o", out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	got, err := snapshotio.Decode(f, snapshotio.FormatYAML)
	require.NoError(t, err)
	require.NotNil(t, got.Boxes)
	assert.Len(t, *got.Boxes, 2)
	require.NotNil(t, got.FontFamily)
	assert.Equal(t, "Mono", *got.FontFamily)

	t.Run("rejects unknown policy", func(t *testing.T) {
		assert.Error(t, run(t, "-c", cfgPath, "import", "--policy", "merge", src))
	})
}

func TestNewEcho(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.BodyLimit = "1K"
	logger, err := logging.New(io.Discard, logging.Options{})
	require.NoError(t, err)

	e := newEcho(cfg, logger)
	e.POST("/echo", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("small")))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	big := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("x", 4096)))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
