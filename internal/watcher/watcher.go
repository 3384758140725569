// Package watcher reruns a build when the files it was made from change.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a file must stay quiet before its change is
// reported
const DefaultDebounce = 500 * time.Millisecond

// Handler is called once per changed file after the debounce window. An
// error is logged and watching continues.
type Handler func(ctx context.Context, path string) error

// Watcher watches a set of files for changes
type Watcher struct {
	paths    []string
	onChange Handler
	debounce time.Duration
	logger   *zap.Logger
}

// New creates a watcher for paths
func New(onChange Handler, paths ...string) *Watcher {
	return &Watcher{
		paths:    paths,
		onChange: onChange,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
	}
}

// WithDebounce sets the debounce duration
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// WithLogger sets the logger
func (w *Watcher) WithLogger(l *zap.Logger) *Watcher {
	w.logger = l.Named("watcher")
	return w
}

// Watch blocks until ctx is done, calling the handler from this goroutine so
// calls never overlap. It returns ctx.Err() on cancellation.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	// Directories are watched so files replaced by editors are still seen
	files := make(map[string]bool, len(w.paths))
	dirs := make(map[string]bool)
	for _, path := range w.paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		dir := filepath.Dir(abs)
		if !dirs[dir] {
			if err := fw.Add(dir); err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}
			dirs[dir] = true
		}
		files[abs] = true
		w.logger.Info("watching", zap.String("path", abs))
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	var fire <-chan time.Time
	var pending []string
	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !files[abs] {
				continue
			}
			if !slices.Contains(pending, abs) {
				pending = append(pending, abs)
			}
			timer.Reset(w.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			for _, path := range pending {
				w.logger.Info("file changed", zap.String("path", path))
				if err := w.onChange(ctx, path); err != nil {
					w.logger.Warn("rebuild failed", zap.String("path", path), zap.Error(err))
				}
			}
			pending = pending[:0]

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
