package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 150 * time.Millisecond

// Watcher hot-reloads the configuration file and invokes a callback with the
// freshly parsed config. Reloads that fail validation keep the previous
// config in effect.
type Watcher struct {
	configPath     string
	reloadCallback func(*Config)

	mu          sync.Mutex
	reloadTimer *time.Timer
	watcher     *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(configPath string, reloadCallback func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		configPath:     configPath,
		reloadCallback: reloadCallback,
		watcher:        fsw,
	}, nil
}

// Start begins watching until ctx is cancelled. The config file's directory
// is watched rather than the file itself so atomic replaces (rename over)
// are still observed.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go func() {
		defer func() { _ = w.watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.scheduleReload()
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("config watcher error: %v", err)
			}
		}
	}()
	return nil
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("config reload failed, keeping previous config: %v", err)
		return
	}
	log.Infof("config reloaded: %s", cfg)
	if w.reloadCallback != nil {
		w.reloadCallback(cfg)
	}
}
