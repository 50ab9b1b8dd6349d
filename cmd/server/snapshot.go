package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/companion-board/backend/internal/api"
	"github.com/companion-board/backend/internal/snapshotio"
)

func snapshotFormat(flag, path string) (snapshotio.Format, error) {
	if flag != "" {
		return snapshotio.ParseFormat(flag)
	}
	return snapshotio.FormatFromPath(path), nil
}

func runExport(ctx context.Context, cmd *cli.Command) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	out := cmd.String("out")
	format, err := snapshotFormat(cmd.String("format"), out)
	if err != nil {
		return err
	}

	kv, st, err := env.openStore(env.cfg.Storage.InstanceID)
	if err != nil {
		return err
	}
	defer kv.Close()

	snap := st.Snapshot()
	snap.Timestamp = time.Now().UnixMilli()

	var w io.Writer = os.Stdout
	if out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}
	if err := snapshotio.Encode(w, snap, format); err != nil {
		return err
	}
	env.logger.Info("exported board", "boxes", len(snap.Boxes), "format", format, "out", out)
	return nil
}

func runImport(ctx context.Context, cmd *cli.Command) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	path := cmd.StringArg("path")
	if path == "" {
		return errors.New("import needs a snapshot file")
	}
	format, err := snapshotFormat(cmd.String("format"), path)
	if err != nil {
		return err
	}
	policy := cmd.String("policy")
	if policy != api.PolicyAppend && policy != api.PolicyReplace {
		return fmt.Errorf("unknown import policy %q", policy)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	p, err := snapshotio.Decode(f, format)
	if err != nil {
		return err
	}

	kv, st, err := env.openStore(env.cfg.Storage.InstanceID)
	if err != nil {
		return err
	}
	defer kv.Close()

	if policy == api.PolicyReplace {
		err = st.ReplaceAll(p)
	} else {
		_, err = st.MergeAppend(p)
	}
	if err != nil {
		return err
	}
	env.logger.Info("imported board", "policy", policy, "boxes", len(st.Snapshot().Boxes))
	return nil
}
