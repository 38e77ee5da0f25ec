package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/krishan2005op/safe-track-go/internal/models"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc applies a freshly parsed catalog.
type ReloadFunc func(zones []models.Zone) error

// Watcher reloads a zone file whenever it changes on disk. The parent
// directory is watched so editors that replace the file by rename still
// trigger a reload.
type Watcher struct {
	path     string
	reload   ReloadFunc
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
}

// NewWatcher creates a watcher for path. Call Run to start it.
func NewWatcher(path string, debounce time.Duration, reload ReloadFunc, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		reload:   reload,
		debounce: debounce,
		watcher:  fw,
		logger:   logger,
	}, nil
}

// Run blocks until ctx is cancelled, reloading after each burst of changes.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.apply()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Zone file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) apply() {
	zones, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("Zone file reload skipped", zap.String("path", w.path), zap.Error(err))
		return
	}
	if err := w.reload(zones); err != nil {
		w.logger.Warn("Zone file rejected, keeping previous catalog", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("Zone file reloaded", zap.String("path", w.path), zap.Int("zones", len(zones)))
}
