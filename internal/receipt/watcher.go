package receipt

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces bursts of filesystem events into one trigger
const DefaultWatchDebounce = 2 * time.Second

// WatchStorage watches the storage tree recursively and calls onChange after
// files disappear from it (removed or renamed away). It returns once the
// watcher is running; watching stops when ctx is cancelled.
func WatchStorage(ctx context.Context, root string, debounce time.Duration, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", root, err)
	}

	go func() {
		defer w.Close()

		var timer *time.Timer
		fire := func() {
			if debounce <= 0 {
				onChange()
				return
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, onChange)
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Has(fsnotify.Create) {
					if info, err := os.Stat(e.Name); err == nil && info.IsDir() {
						if err := w.Add(e.Name); err != nil {
							slog.Warn("Failed to watch new directory", "path", e.Name, "error", err)
						}
					}
				}
				if strings.HasPrefix(filepath.Base(e.Name), ".") {
					continue
				}
				if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
					slog.Debug("Storage change detected", "path", e.Name, "op", e.Op.String())
					fire()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("Storage watcher error", "error", err)
			}
		}
	}()

	slog.Info("Watching storage", "root", root)
	return nil
}
