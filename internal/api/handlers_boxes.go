// handlers_boxes.go - Box operation handlers
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// BoxHandlerImpl implements the BoxHandler interface
type BoxHandlerImpl struct {
	store BoardStore
}

// NewBoxHandler creates a new box handler instance
func NewBoxHandler(store BoardStore) BoxHandler {
	return &BoxHandlerImpl{store: store}
}

// HandleListBoxes returns every box in z-order of the board
func (h *BoxHandlerImpl) HandleListBoxes(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Snapshot().Boxes)
}

// HandleCreateBox adds a box with default attributes
func (h *BoxHandlerImpl) HandleCreateBox(c echo.Context) error {
	box, err := h.store.CreateBox()
	if err != nil {
		return FromStoreError("failed to create box", "", err)
	}
	return c.JSON(http.StatusCreated, box)
}

// HandleGetBox returns one box
func (h *BoxHandlerImpl) HandleGetBox(c echo.Context) error {
	id := c.Param("id")
	box, err := h.store.Box(id)
	if err != nil {
		return FromStoreError("failed to read box", id, err)
	}
	return c.JSON(http.StatusOK, box)
}

// HandleUpdateBox patches a box. Fields absent from the body keep their values.
func (h *BoxHandlerImpl) HandleUpdateBox(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	box, err := h.store.Box(id)
	if err != nil {
		return FromStoreError("failed to read box", id, err)
	}

	if err := decodeBody(c, &box); err != nil {
		return err
	}
	box.ID = id

	updated, err := h.store.UpdateBox(id, box)
	if err != nil {
		return FromStoreError("failed to update box", id, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// HandleDeleteBox removes a box
func (h *BoxHandlerImpl) HandleDeleteBox(c echo.Context) error {
	id := c.Param("id")
	if err := h.store.DeleteBox(id); err != nil {
		return FromStoreError("failed to delete box", id, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleDuplicateBox clones a box with a fresh id and an offset position
func (h *BoxHandlerImpl) HandleDuplicateBox(c echo.Context) error {
	id := c.Param("id")
	dup, err := h.store.DuplicateBox(id)
	if err != nil {
		return FromStoreError("failed to duplicate box", id, err)
	}
	return c.JSON(http.StatusCreated, dup)
}

// decodeBody decodes a JSON body onto v, keeping the fields it does not name.
func decodeBody(c echo.Context, v any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return NewBadRequestError("request body is empty", nil)
		}
		return NewBadRequestError("invalid JSON body", err)
	}
	return nil
}
