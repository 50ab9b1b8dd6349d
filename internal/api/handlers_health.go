// handlers_health.go - Health, status and resolved value handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/companion-board/backend/internal/models"
	"github.com/companion-board/backend/internal/session"
	"github.com/companion-board/backend/internal/syncbridge"
	"github.com/companion-board/backend/internal/variables"
)

// StatusHandlerImpl implements the StatusHandler interface
type StatusHandlerImpl struct {
	version    string
	instanceID string
	resolver   Resolver
	sync       SyncHandler
	hub        *Hub
}

// NewStatusHandler creates a new status handler. resolver, sync and hub may be nil.
func NewStatusHandler(version, instanceID string, resolver Resolver, sync SyncHandler, hub *Hub) StatusHandler {
	return &StatusHandlerImpl{
		version:    version,
		instanceID: instanceID,
		resolver:   resolver,
		sync:       sync,
		hub:        hub,
	}
}

// HandleHealth returns server health status
func (h *StatusHandlerImpl) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"version":    h.version,
		"instanceId": h.instanceID,
	})
}

type statusResponse struct {
	Connectivity variables.Status  `json:"connectivity"`
	Sessions     []session.Info    `json:"sessions"`
	Sync         *syncbridge.State `json:"sync,omitempty"`
	SyncStats    *syncbridge.Stats `json:"syncStats,omitempty"`
	Clients      int               `json:"clients"`
}

// HandleStatus reports connectivity, fetch sessions and sync bridge state
func (h *StatusHandlerImpl) HandleStatus(c echo.Context) error {
	resp := statusResponse{
		Connectivity: variables.StatusIdle,
		Sessions:     []session.Info{},
	}
	if h.resolver != nil {
		resp.Connectivity = h.resolver.Status()
		resp.Sessions = h.resolver.Sessions()
	}
	if h.sync != nil {
		state, stats := h.sync.State(), h.sync.Stats()
		resp.Sync, resp.SyncStats = &state, &stats
	}
	if h.hub != nil {
		resp.Clients = h.hub.Clients()
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleGetResolved returns the resolved values of every subject
func (h *StatusHandlerImpl) HandleGetResolved(c echo.Context) error {
	if h.resolver == nil {
		return c.JSON(http.StatusOK, map[string]models.ResolvedMap{})
	}
	return c.JSON(http.StatusOK, h.resolver.All())
}

// HandleGetResolvedSubject returns the resolved values of one box or the canvas
func (h *StatusHandlerImpl) HandleGetResolvedSubject(c echo.Context) error {
	subject := c.Param("subject")
	if h.resolver == nil {
		return NewNotFoundError("subject", subject)
	}
	values, ok := h.resolver.Values(subject)
	if !ok {
		return NewNotFoundError("subject", subject)
	}
	return c.JSON(http.StatusOK, values)
}
