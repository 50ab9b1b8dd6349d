package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// ErrWatchUnsupported is returned by Watch when the primary tier is not file based.
var ErrWatchUnsupported = errors.New("watch requires the file storage backend")

// Watch reports keys of this namespace that another process changed in the file tier,
// the way a browser storage event tells other windows about a write. Our own writes
// are filtered out. It blocks until ctx is done.
func (kv *KV) Watch(ctx context.Context, onChange func(key string)) error {
	ft, ok := kv.primary.(*FileTier)
	if !ok {
		return ErrWatchUnsupported
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(ft.Dir()); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	prefix := kv.namespace + ":"
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			kv.logger.Warn("storage watcher error", "err", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			base := filepath.Base(event.Name)
			if strings.HasPrefix(base, ".tmp-") || !strings.HasSuffix(base, fileSuffix) {
				continue
			}
			key := keyFromFile(base)
			if !strings.HasPrefix(key, prefix) {
				continue
			}

			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if _, err := os.Stat(event.Name); os.IsNotExist(err) {
					ft.noteExternal(key, 0, true)
					onChange(strings.TrimPrefix(key, prefix))
				}
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			data, err := os.ReadFile(event.Name)
			if err != nil || ft.isOwnWrite(key, data) {
				continue
			}
			ft.noteExternal(key, int64(len(data)), false)
			onChange(strings.TrimPrefix(key, prefix))
		}
	}
}
