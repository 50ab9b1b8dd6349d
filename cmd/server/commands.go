package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/companion-board/backend/internal/config"
	"github.com/companion-board/backend/internal/logging"
	"github.com/companion-board/backend/internal/storage"
	"github.com/companion-board/backend/internal/store"
)

const defaultConfigName = "CompanionBoard.config"

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve the display and control pages, the REST API and the sockets",
		Action: runServe,
	}
}

func peerCommand() *cli.Command {
	return &cli.Command{
		Name:  "peer",
		Usage: "Mirror a running board over its /control socket into local storage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "WebSocket url of the board, e.g. ws://host:8000/control",
			},
			&cli.StringFlag{
				Name:  "instance",
				Usage: "Storage namespace of the mirror (default: <instance>-peer)",
			},
		},
		Action: runPeer,
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the persisted board to a snapshot file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output file, - for stdout",
				Value:   "-",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "json, yaml or msgpack (default: from the file extension)",
			},
		},
		Action: runExport,
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Load a snapshot file into the persisted board",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "path",
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "policy",
				Usage:    "append or replace",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "json, yaml or msgpack (default: from the file extension)",
			},
		},
		Action: runImport,
	}
}

// env is what every command needs before it does its own work.
type env struct {
	cfg        *config.AppConfig
	configPath string
	logger     *log.Logger
}

func loadEnv(cmd *cli.Command) (*env, error) {
	path := cmd.String("config")
	if path == "" {
		exePath, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		path = filepath.Join(filepath.Dir(exePath), defaultConfigName)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.Advanced.LogLevel = level
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	logger, err := logging.New(os.Stderr, logging.Options{
		Level:  cfg.Advanced.LogLevel,
		Format: cfg.Advanced.LogFormat,
	})
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, configPath: path, logger: logger}, nil
}

// openStore opens the persisted board of namespace.
func (e *env) openStore(namespace string) (*storage.KV, *store.Store, error) {
	kv, err := storage.Open(storage.Options{
		Backend:    e.cfg.Storage.Backend,
		Fallback:   e.cfg.Storage.Fallback,
		Dir:        e.cfg.GetDataDir(),
		Namespace:  namespace,
		QuotaBytes: e.cfg.Storage.QuotaBytes,
	}, logging.Component(e.logger, "Storage"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}

	st, err := store.New(kv, store.WithLogger(logging.Component(e.logger, "Store")))
	if err != nil {
		kv.Close()
		return nil, nil, fmt.Errorf("failed to load board: %w", err)
	}
	return kv, st, nil
}

// watchStorage reloads st whenever another process writes its keys. It returns
// immediately when the backend cannot be watched.
func (e *env) watchStorage(ctx context.Context, kv *storage.KV, st *store.Store) {
	if !e.cfg.Storage.WatchExternalChanges {
		return
	}
	logger := logging.Component(e.logger, "Storage")
	go func() {
		err := kv.Watch(ctx, func(key string) {
			logger.Debug("external write", "key", key)
			if err := st.Reload(); err != nil {
				logger.Warn("reload failed", "key", key, "err", err)
			}
		})
		if err != nil {
			logger.Debug("not watching storage", "err", err)
		}
	}()
}
