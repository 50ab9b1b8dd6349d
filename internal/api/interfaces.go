// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/companion-board/backend/internal/models"
	"github.com/companion-board/backend/internal/session"
	"github.com/companion-board/backend/internal/syncbridge"
	"github.com/companion-board/backend/internal/variables"
)

// BoardStore is the subset of the state store the handlers mutate through.
// *store.Store implements it.
type BoardStore interface {
	Snapshot() models.Snapshot
	Box(id string) (models.Box, error)
	CreateBox() (models.Box, error)
	UpdateBox(id string, box models.Box) (models.Box, error)
	DeleteBox(id string) error
	DuplicateBox(id string) (models.Box, error)
	ReplaceAll(p models.PartialSnapshot) error
	MergeAppend(p models.PartialSnapshot) ([]models.Box, error)
	SetCanvas(c models.CanvasSettings) error
	SetConnections(conns []models.Connection) error
	SetDefaultConnectionURL(url string) error
	SetBackgroundImage(dataURI string) error
	SetFont(family string) error
	SetLocked(locked bool) error
}

// Resolver exposes the resolved values of the fetch sessions.
// *session.Manager implements it.
type Resolver interface {
	Values(subject string) (models.ResolvedMap, bool)
	All() map[string]models.ResolvedMap
	Sessions() []session.Info
	Status() variables.Status
}

// SyncHandler applies control-socket messages to the board.
// *syncbridge.Bridge implements it.
type SyncHandler interface {
	HandleEnvelope(env models.Envelope) error
	BeginDrag()
	EndDrag()
	State() syncbridge.State
	Stats() syncbridge.Stats
}

// BoxHandler handles box operations
type BoxHandler interface {
	HandleListBoxes(c echo.Context) error
	HandleCreateBox(c echo.Context) error
	HandleGetBox(c echo.Context) error
	HandleUpdateBox(c echo.Context) error
	HandleDeleteBox(c echo.Context) error
	HandleDuplicateBox(c echo.Context) error
}

// SnapshotHandler handles export and import
type SnapshotHandler interface {
	HandleExport(c echo.Context) error
	HandleImport(c echo.Context) error
}

// SettingsHandler handles canvas, connection, font and lock settings
type SettingsHandler interface {
	HandleUpdateCanvas(c echo.Context) error
	HandleGetConnections(c echo.Context) error
	HandleUpdateConnections(c echo.Context) error
	HandleUpdateFont(c echo.Context) error
	HandleUpdateLock(c echo.Context) error
	HandleUpdateBackground(c echo.Context) error
	HandleDrag(c echo.Context) error
}

// StatusHandler handles health, connectivity and resolved values
type StatusHandler interface {
	HandleHealth(c echo.Context) error
	HandleStatus(c echo.Context) error
	HandleGetResolved(c echo.Context) error
	HandleGetResolvedSubject(c echo.Context) error
}

// PageHandler renders the HTML pages served at / and /control
type PageHandler interface {
	HandleDisplayPage(c echo.Context) error
	HandleControlPage(c echo.Context) error
}
