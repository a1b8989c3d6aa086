package config

import (
	"context"
	"path/filepath"
	"time"

	"toolplane/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of write events editors produce when
// saving a file.
const reloadDebounce = 500 * time.Millisecond

// Watcher watches the configuration directory and triggers manager reloads
// when config.yaml changes. A failed reload keeps the previous snapshot, so
// an editor half-save never takes the control plane down.
type Watcher struct {
	manager  *Manager
	watcher  *fsnotify.Watcher
	onReload func(*Snapshot)
}

// NewWatcher creates a watcher for the manager's configuration directory.
// onReload, if non-nil, is called with the new snapshot after each
// successful reload.
func NewWatcher(manager *Manager, onReload func(*Snapshot)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(manager.path); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{manager: manager, watcher: fsw, onReload: onReload}, nil
}

// Run processes filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFileName {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if err := w.manager.Reload(); err != nil {
				logging.Error("ConfigWatcher", err, "Hot reload failed")
				continue
			}
			if w.onReload != nil {
				w.onReload(w.manager.Current())
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("ConfigWatcher", "Watcher error: %v", err)
		}
	}
}
