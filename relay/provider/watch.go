package provider

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/fsnotify/fsnotify"

	"github.com/modelrelay/modelrelay/common/logger"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the bindings file whenever it changes on disk. The parent
// directory is watched rather than the file itself because editors and
// config mounts replace the file, which would otherwise drop the watch.
// Blocks until the context is cancelled.
func Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create bindings watcher")
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watch bindings directory %q", dir)
	}

	lg := logger.FromContext(ctx)
	lg.Info("watching provider bindings", zap.String("path", path))

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			if err := LoadAndInstall(ctx, path); err != nil {
				lg.Error("provider bindings reload failed, keeping previous configuration",
					zap.Error(err))
				return
			}
			lg.Info("provider bindings reloaded", zap.String("path", path))
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("bindings watcher events channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("bindings watcher errors channel closed")
			}
			lg.Warn("bindings watcher error", zap.Error(err))
		}
	}
}
