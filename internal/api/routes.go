// routes.go - Route registration helpers
package api

import (
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store      BoardStore
	Resolver   Resolver
	Sync       SyncHandler
	Hub        *Hub
	Pages      PageHandler
	Version    string
	InstanceID string
}

// Handlers holds all handler instances
type Handlers struct {
	Boxes    BoxHandler
	Snapshot SnapshotHandler
	Settings SettingsHandler
	Status   StatusHandler
	Hub      *Hub
	Pages    PageHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Boxes:    NewBoxHandler(deps.Store),
		Snapshot: NewSnapshotHandler(deps.Store),
		Settings: NewSettingsHandler(deps.Store, deps.Sync),
		Status:   NewStatusHandler(deps.Version, deps.InstanceID, deps.Resolver, deps.Sync, deps.Hub),
		Hub:      deps.Hub,
		Pages:    deps.Pages,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/health", handlers.Status.HandleHealth)
	e.GET("/api/status", handlers.Status.HandleStatus)

	snapshotGroup := e.Group("/api/snapshot")
	snapshotGroup.GET("", handlers.Snapshot.HandleExport)
	snapshotGroup.POST("/import", handlers.Snapshot.HandleImport)

	boxGroup := e.Group("/api/boxes")
	boxGroup.GET("", handlers.Boxes.HandleListBoxes)
	boxGroup.POST("", handlers.Boxes.HandleCreateBox)
	boxGroup.GET("/:id", handlers.Boxes.HandleGetBox)
	boxGroup.PUT("/:id", handlers.Boxes.HandleUpdateBox)
	boxGroup.DELETE("/:id", handlers.Boxes.HandleDeleteBox)
	boxGroup.POST("/:id/duplicate", handlers.Boxes.HandleDuplicateBox)

	e.PUT("/api/canvas", handlers.Settings.HandleUpdateCanvas)
	e.GET("/api/connections", handlers.Settings.HandleGetConnections)
	e.PUT("/api/connections", handlers.Settings.HandleUpdateConnections)
	e.PUT("/api/font", handlers.Settings.HandleUpdateFont)
	e.PUT("/api/lock", handlers.Settings.HandleUpdateLock)
	e.PUT("/api/background", handlers.Settings.HandleUpdateBackground)
	e.POST("/api/drag", handlers.Settings.HandleDrag)

	e.GET("/api/resolved", handlers.Status.HandleGetResolved)
	e.GET("/api/resolved/:subject", handlers.Status.HandleGetResolvedSubject)
}

// RegisterWebSocketRoutes registers / and /control. Both serve a socket when the
// request asks for an upgrade and the rendered page otherwise.
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	if handlers.Hub == nil {
		return
	}
	e.GET("/", upgradeOr(handlers.Hub.HandleDisplay, pageOrNotFound(handlers.Pages, false)))
	e.GET("/control", upgradeOr(handlers.Hub.HandleControl, pageOrNotFound(handlers.Pages, true)))
}

func upgradeOr(ws, page echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if websocket.IsWebSocketUpgrade(c.Request()) {
			return ws(c)
		}
		return page(c)
	}
}

func pageOrNotFound(p PageHandler, control bool) echo.HandlerFunc {
	switch {
	case p == nil:
		return func(c echo.Context) error { return echo.ErrNotFound }
	case control:
		return p.HandleControlPage
	default:
		return p.HandleDisplayPage
	}
}

// MiddlewareOptions configures SetupMiddleware.
type MiddlewareOptions struct {
	Logger *log.Logger
	// ErrorDetails adds internal error text to unknown error responses.
	ErrorDetails bool
	LogRequests  bool
}

// SetupMiddleware installs the error handler and request logging. Health checks
// are not logged.
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions) {
	e.HTTPErrorHandler = NewErrorHandler(opts.ErrorDetails)
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return !opts.LogRequests || c.Request().URL.Path == "/api/health"
		},
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				logger.Warn("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "err", v.Error)
				return nil
			}
			logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
}
