package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/companion-board/backend/internal/logging"
	"github.com/companion-board/backend/internal/store"
	"github.com/companion-board/backend/internal/syncbridge"
)

// runPeer keeps a local copy of a remote board. Snapshots from the board are applied
// through the bridge, so the mirror never echoes them back.
func runPeer(ctx context.Context, cmd *cli.Command) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	cfg, logger := env.cfg, env.logger

	url := cmd.String("url")
	if url == "" {
		url = cfg.Sync.PeerURL
	}
	if url == "" {
		return errors.New("peer needs --url or Sync.PeerURL")
	}
	namespace := cmd.String("instance")
	if namespace == "" {
		namespace = cfg.Storage.InstanceID + "-peer"
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, st, err := env.openStore(namespace)
	if err != nil {
		return err
	}
	defer kv.Close()

	syncLogger := logging.Component(logger, "Sync")
	var bridge *syncbridge.Bridge
	client := syncbridge.NewWSClient(url, syncbridge.WSClientOptions{
		RetryInterval: cfg.RetryInterval(),
		OnMessage: func(data []byte) {
			// Malformed frames are logged and counted by the bridge.
			_ = bridge.HandleMessage(data)
		},
		OnState: func(s syncbridge.ConnState) {
			syncLogger.Debug("connection", "state", s)
		},
		Logger: syncLogger,
	})
	bridge = syncbridge.New(st, client, syncLogger)
	bridge.Start()
	defer bridge.Close()

	unsubscribe := st.Subscribe(func(ev store.Event) {
		logger.Info("board updated", "origin", ev.Origin, "kinds", ev.Kinds, "boxes", len(st.Snapshot().Boxes))
	})
	defer unsubscribe()

	logger.Info("mirroring board", "url", url, "namespace", namespace)
	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
