// handlers_snapshot.go - Snapshot export and import handlers
package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/companion-board/backend/internal/snapshotio"
)

// MaxImportSize bounds an imported snapshot; background images are embedded as
// data URIs, so this is generous.
const MaxImportSize = 32 << 20

// Import policies
const (
	PolicyReplace = "replace"
	PolicyAppend  = "append"
)

// SnapshotHandlerImpl implements the SnapshotHandler interface
type SnapshotHandlerImpl struct {
	store BoardStore
}

// NewSnapshotHandler creates a new snapshot handler instance
func NewSnapshotHandler(store BoardStore) SnapshotHandler {
	return &SnapshotHandlerImpl{store: store}
}

// HandleExport streams the board in the format named by ?format (default JSON)
func (h *SnapshotHandlerImpl) HandleExport(c echo.Context) error {
	format, err := snapshotio.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return NewBadRequestError("unsupported format", err)
	}

	snap := h.store.Snapshot()
	snap.Timestamp = time.Now().UnixMilli()

	var buf bytes.Buffer
	if err := snapshotio.Encode(&buf, snap, format); err != nil {
		return NewInternalError("failed to encode snapshot", err)
	}

	if c.QueryParam("download") != "" {
		name := fmt.Sprintf("board-%s.%s", time.Now().Format("20060102-150405"), format)
		c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	}
	return c.Blob(http.StatusOK, format.ContentType(), buf.Bytes())
}

type importResponse struct {
	Policy string   `json:"policy"`
	Boxes  int      `json:"boxes"`
	Added  []string `json:"added,omitempty"`
}

// HandleImport loads a snapshot document with the append or replace policy
func (h *SnapshotHandlerImpl) HandleImport(c echo.Context) error {
	policy := strings.ToLower(c.QueryParam("policy"))
	if policy != PolicyReplace && policy != PolicyAppend {
		return NewValidationError("policy")
	}

	format, err := importFormat(c)
	if err != nil {
		return NewBadRequestError("unsupported format", err)
	}

	body := http.MaxBytesReader(c.Response(), c.Request().Body, MaxImportSize)
	data, err := io.ReadAll(body)
	if err != nil {
		return NewBadRequestError("failed to read request body", err)
	}
	if len(data) == 0 {
		return NewBadRequestError("request body is empty", nil)
	}

	p, err := snapshotio.Decode(bytes.NewReader(data), format)
	if err != nil {
		return FromStoreError("failed to decode snapshot", "", err)
	}

	resp := importResponse{Policy: policy}
	switch policy {
	case PolicyReplace:
		if err := h.store.ReplaceAll(p); err != nil {
			return FromStoreError("failed to import snapshot", "", err)
		}
	case PolicyAppend:
		added, err := h.store.MergeAppend(p)
		if err != nil {
			return FromStoreError("failed to import snapshot", "", err)
		}
		for _, b := range added {
			resp.Added = append(resp.Added, b.ID)
		}
	}
	resp.Boxes = len(h.store.Snapshot().Boxes)
	return c.JSON(http.StatusOK, resp)
}

// importFormat takes the format from ?format, then from the content type.
func importFormat(c echo.Context) (snapshotio.Format, error) {
	if q := c.QueryParam("format"); q != "" {
		return snapshotio.ParseFormat(q)
	}
	ct := c.Request().Header.Get(echo.HeaderContentType)
	for _, f := range []snapshotio.Format{snapshotio.FormatYAML, snapshotio.FormatMsgpack} {
		if strings.HasPrefix(ct, f.ContentType()) {
			return f, nil
		}
	}
	return snapshotio.FormatJSON, nil
}
