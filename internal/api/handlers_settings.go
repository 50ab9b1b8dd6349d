// handlers_settings.go - Canvas, connection, font, lock and drag handlers
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/companion-board/backend/internal/models"
)

// SettingsHandlerImpl implements the SettingsHandler interface
type SettingsHandlerImpl struct {
	store BoardStore
	sync  SyncHandler
}

// NewSettingsHandler creates a new settings handler instance. sync may be nil, in
// which case drag requests are rejected.
func NewSettingsHandler(store BoardStore, sync SyncHandler) SettingsHandler {
	return &SettingsHandlerImpl{store: store, sync: sync}
}

// HandleUpdateCanvas patches the canvas settings
func (h *SettingsHandlerImpl) HandleUpdateCanvas(c echo.Context) error {
	canvas := h.store.Snapshot().CanvasSettings
	if err := decodeBody(c, &canvas); err != nil {
		return err
	}
	if err := h.store.SetCanvas(canvas); err != nil {
		return FromStoreError("failed to update canvas", "", err)
	}
	return c.JSON(http.StatusOK, h.store.Snapshot().CanvasSettings)
}

// connectionsBody is the shape of GET and PUT /api/connections.
type connectionsBody struct {
	DefaultConnectionURL *string              `json:"defaultConnectionUrl,omitempty"`
	Connections          *[]models.Connection `json:"connections,omitempty"`
}

func (r connectionsBody) validate() error {
	if r.DefaultConnectionURL == nil && r.Connections == nil {
		return NewValidationError("connections")
	}
	if r.Connections != nil {
		for _, conn := range *r.Connections {
			if strings.TrimSpace(conn.URL) == "" {
				return NewValidationError("connections.url")
			}
		}
	}
	return nil
}

// HandleGetConnections returns the default URL and the alternate connections
func (h *SettingsHandlerImpl) HandleGetConnections(c echo.Context) error {
	snap := h.store.Snapshot()
	return c.JSON(http.StatusOK, connectionsBody{
		DefaultConnectionURL: &snap.DefaultConnectionURL,
		Connections:          &snap.Connections,
	})
}

// HandleUpdateConnections replaces the default URL, the connection list or both
func (h *SettingsHandlerImpl) HandleUpdateConnections(c echo.Context) error {
	var req connectionsBody
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	if req.DefaultConnectionURL != nil {
		if err := h.store.SetDefaultConnectionURL(strings.TrimSpace(*req.DefaultConnectionURL)); err != nil {
			return FromStoreError("failed to update default connection", "", err)
		}
	}
	if req.Connections != nil {
		if err := h.store.SetConnections(*req.Connections); err != nil {
			return FromStoreError("failed to update connections", "", err)
		}
	}
	return h.HandleGetConnections(c)
}

type fontRequest struct {
	FontFamily string `json:"fontFamily"`
}

// HandleUpdateFont sets the board font family
func (h *SettingsHandlerImpl) HandleUpdateFont(c echo.Context) error {
	var req fontRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if strings.TrimSpace(req.FontFamily) == "" {
		return NewValidationError("fontFamily")
	}
	if err := h.store.SetFont(req.FontFamily); err != nil {
		return FromStoreError("failed to update font", "", err)
	}
	return c.JSON(http.StatusOK, req)
}

type lockRequest struct {
	Locked *bool `json:"locked"`
}

// HandleUpdateLock locks or unlocks box editing
func (h *SettingsHandlerImpl) HandleUpdateLock(c echo.Context) error {
	var req lockRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.Locked == nil {
		return NewValidationError("locked")
	}
	if err := h.store.SetLocked(*req.Locked); err != nil {
		return FromStoreError("failed to update lock", "", err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"locked": *req.Locked})
}

type backgroundRequest struct {
	BackgroundImage string `json:"backgroundImage"`
}

func (r backgroundRequest) validate() error {
	if r.BackgroundImage != "" && !strings.HasPrefix(r.BackgroundImage, "data:image/") {
		return NewValidationError("backgroundImage")
	}
	return nil
}

// HandleUpdateBackground sets or, with an empty value, clears the background image
func (h *SettingsHandlerImpl) HandleUpdateBackground(c echo.Context) error {
	var req backgroundRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	if err := h.store.SetBackgroundImage(req.BackgroundImage); err != nil {
		return FromStoreError("failed to update background", "", err)
	}
	return c.NoContent(http.StatusNoContent)
}

type dragRequest struct {
	Dragging *bool `json:"dragging"`
}

// HandleDrag starts or ends a drag on behalf of a control client that is not
// connected over the socket.
func (h *SettingsHandlerImpl) HandleDrag(c echo.Context) error {
	if h.sync == nil {
		return &APIError{
			Status:  http.StatusServiceUnavailable,
			Code:    "SERVICE_UNAVAILABLE",
			Message: "sync bridge is not running",
		}
	}
	var req dragRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.Dragging == nil {
		return NewValidationError("dragging")
	}
	if *req.Dragging {
		h.sync.BeginDrag()
	} else {
		h.sync.EndDrag()
	}
	return c.JSON(http.StatusOK, h.sync.State())
}
