package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/urfave/cli/v3"

	"github.com/companion-board/backend/internal/api"
	"github.com/companion-board/backend/internal/config"
	"github.com/companion-board/backend/internal/logging"
	"github.com/companion-board/backend/internal/session"
	"github.com/companion-board/backend/internal/syncbridge"
	"github.com/companion-board/backend/internal/variables"
	"github.com/companion-board/backend/internal/web"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, cmd *cli.Command) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	cfg, logger := env.cfg, env.logger

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, st, err := env.openStore(cfg.Storage.InstanceID)
	if err != nil {
		return err
	}
	defer kv.Close()

	if cfg.Companion.DefaultURL != "" && st.Snapshot().DefaultConnectionURL == "" {
		if err := st.SetDefaultConnectionURL(cfg.Companion.DefaultURL); err != nil {
			logger.Warn("failed to seed default connection", "err", err)
		}
	}

	hub := api.NewHub(api.HubOptions{
		Source:     st.Snapshot,
		SendBuffer: cfg.Sync.SendBuffer,
		Logger:     logger,
	})
	defer hub.Close()

	bridge := syncbridge.New(st, syncbridge.HubTransport{Hub: hub}, logging.Component(logger, "Sync"))
	bridge.Start()
	defer bridge.Close()
	hub.SetSync(bridge)
	hub.Push(st.Snapshot())

	client := variables.NewClient(variables.ClientOptions{
		Timeout:           cfg.RequestTimeout(),
		RequestsPerSecond: cfg.Companion.RequestsPerSecond,
		Burst:             cfg.Companion.Burst,
	})
	sessions := session.NewManager(client, st, session.Options{
		FallbackInterval: cfg.FallbackInterval(),
		Publisher:        hub,
		Logger:           logging.Component(logger, "Fetcher"),
	})
	sessions.Start(ctx)
	defer sessions.Close()

	env.watchStorage(ctx, kv, st)

	pages, err := web.NewPages(st, sessions)
	if err != nil {
		return err
	}

	e := newEcho(cfg, logger)
	handlers := api.NewHandlers(&api.Dependencies{
		Store:      st,
		Resolver:   sessions,
		Sync:       bridge,
		Hub:        hub,
		Pages:      pages,
		Version:    Version,
		InstanceID: cfg.Storage.InstanceID,
	})
	api.RegisterRoutes(e, handlers)
	api.RegisterWebSocketRoutes(e, handlers)
	if err := web.RegisterStaticRoutes(e); err != nil {
		logger.Warn("failed to register static routes", "err", err)
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      e,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		ErrorLog:     logger.StandardLog(log.StandardLogOptions{ForceLevel: log.ErrorLevel}),
	}

	printBanner(env)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Open sockets are hijacked, so Shutdown does not wait for them.
	hub.Close()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newEcho builds the echo instance with the middleware chain configured from cfg.
func newEcho(cfg *config.AppConfig, logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, api.MiddlewareOptions{
		Logger:       logging.Component(logger, "HTTP"),
		ErrorDetails: cfg.Advanced.ErrorDetails,
		LogRequests:  cfg.Advanced.EnableRequestLogging,
	})

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("panic recovered", "uri", c.Request().RequestURI, "err", err, "stack", string(stack))
			return err
		},
	}))

	// Sockets are long lived and hijack the connection, so they skip the timeout and
	// compression wrappers.
	isSocket := func(c echo.Context) bool {
		return websocket.IsWebSocketUpgrade(c.Request())
	}

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout:      time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper:      isSocket,
		ErrorMessage: "Request timeout",
	}))

	if cfg.Advanced.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level:   cfg.Advanced.CompressionLevel,
			Skipper: isSocket,
		}))
	}

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
	return e
}

func printBanner(env *env) {
	cfg := env.cfg
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Companion Board Server                          ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Instance:   %-45s║\n", cfg.Storage.InstanceID)
	fmt.Printf("║  Storage:    %-45s║\n", cfg.Storage.Backend+" (fallback "+cfg.Storage.Fallback+")")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", env.configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Display: http://localhost:%d/   Control: http://localhost:%d/control\n\n", cfg.Server.Port, cfg.Server.Port)
}
