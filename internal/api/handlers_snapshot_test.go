// handlers_snapshot_test.go - Tests for snapshot export and import
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companion-board/backend/internal/models"
	"github.com/companion-board/backend/internal/snapshotio"
)

func exportBody(t *testing.T, h SnapshotHandler, format string) *httptest.ResponseRecorder {
	t.Helper()
	c, rec := newContext(http.MethodGet, "/api/snapshot?format="+format+"&download=1", "")
	require.NoError(t, h.HandleExport(c))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec
}

func importBody(h SnapshotHandler, query, contentType string, body []byte) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/snapshot/import?"+query, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	return rec, h.HandleImport(e.NewContext(req, rec))
}

func TestSnapshotHandler_RoundTrip(t *testing.T) {
	for _, format := range []snapshotio.Format{snapshotio.FormatJSON, snapshotio.FormatYAML, snapshotio.FormatMsgpack} {
		t.Run(string(format), func(t *testing.T) {
			src := newTestStore(t)
			box, err := src.CreateBox()
			require.NoError(t, err)
			box.Left.Text = "$(custom:a)"
			_, err = src.UpdateBox(box.ID, box)
			require.NoError(t, err)
			require.NoError(t, src.SetFont("Mono"))
			require.NoError(t, src.SetDefaultConnectionURL("http://companion:8000"))

			rec := exportBody(t, NewSnapshotHandler(src), string(format))
			assert.Equal(t, format.ContentType(), rec.Header().Get(echo.HeaderContentType))
			assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "."+string(format))

			dst := newTestStore(t)
			_, err = dst.CreateBox()
			require.NoError(t, err)
			irec, err := importBody(NewSnapshotHandler(dst), "policy=replace&format="+string(format), "", rec.Body.Bytes())
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, irec.Code)

			want, got := src.Snapshot(), dst.Snapshot()
			assert.Equal(t, want.Boxes, got.Boxes)
			assert.Equal(t, want.FontFamily, got.FontFamily)
			assert.Equal(t, want.DefaultConnectionURL, got.DefaultConnectionURL)
		})
	}
}

func TestSnapshotHandler_Import(t *testing.T) {
	doc := func(boxes ...models.Box) []byte {
		s := models.EmptySnapshot()
		s.Boxes = boxes
		s.FontFamily = "Imported"
		data, _ := json.Marshal(s)
		return data
	}

	t.Run("append keeps settings and reissues ids", func(t *testing.T) {
		st := newTestStore(t)
		existing, err := st.CreateBox()
		require.NoError(t, err)

		rec, err := importBody(NewSnapshotHandler(st), "policy=append", echo.MIMEApplicationJSON, doc(models.NewBox(existing.ID), models.NewBox("other")))
		require.NoError(t, err)

		var resp importResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.Boxes)
		require.Len(t, resp.Added, 2)
		assert.NotContains(t, resp.Added, existing.ID)
		assert.NotContains(t, resp.Added, "other")
		assert.Equal(t, models.DefaultFontFamily, st.Snapshot().FontFamily)
	})

	t.Run("replace", func(t *testing.T) {
		st := newTestStore(t)
		_, err := st.CreateBox()
		require.NoError(t, err)

		_, err = importBody(NewSnapshotHandler(st), "policy=replace", "", doc(models.NewBox("b1")))
		require.NoError(t, err)
		snap := st.Snapshot()
		require.Len(t, snap.Boxes, 1)
		assert.Equal(t, "b1", snap.Boxes[0].ID)
		assert.Equal(t, "Imported", snap.FontFamily)
	})

	tests := []struct {
		name    string
		query   string
		body    []byte
		errCode string
	}{
		{"missing policy", "", doc(), "VALIDATION_ERROR"},
		{"unknown policy", "policy=merge", doc(), "VALIDATION_ERROR"},
		{"unknown format", "policy=replace&format=xml", doc(), "BAD_REQUEST"},
		{"empty body", "policy=replace", nil, "BAD_REQUEST"},
		{"missing boxes", "policy=replace", []byte(`{"version":"1.0","fontFamily":"X"}`), "VALIDATION_ERROR"},
		{"not a document", "policy=append", []byte(`[1,2,3]`), "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestStore(t)
			before := st.Snapshot()
			_, err := importBody(NewSnapshotHandler(st), tt.query, "", tt.body)
			assertAPIError(t, err, http.StatusBadRequest, tt.errCode)
			assert.Equal(t, before, st.Snapshot(), "a rejected import leaves the board untouched")
		})
	}
}
