package catalog

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes catalog files on disk after boot. The in-process
// catalog is immutable, so the watcher does not reload anything; it
// reports drift so operators know a restart is needed to pick up the
// changed definitions.
type Watcher struct {
	dirs     []string
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[string]struct{}

	// Drift is invoked once per debounced batch of changed files.
	// Optional; used by the engine to bump a metric.
	Drift func(paths []string)
}

// NewWatcher creates a watcher over the directories containing the
// given catalog paths.
func NewWatcher(paths []string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	dirSet := make(map[string]struct{})
	for _, p := range paths {
		dirSet[filepath.Dir(p)] = struct{}{}
	}
	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}

	return &Watcher{
		dirs:     dirs,
		debounce: 250 * time.Millisecond,
		logger:   logger,
		watcher:  fsw,
		pending:  make(map[string]struct{}),
	}, nil
}

// Run watches until the context is cancelled. Changes to yaml files are
// debounced and logged as warnings.
func (w *Watcher) Run(ctx context.Context) error {
	for _, d := range w.dirs {
		if err := w.watcher.Add(d); err != nil {
			w.logger.Warn("catalog watcher: cannot watch directory",
				"dir", d, "error", err)
		}
	}
	defer w.watcher.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !isCatalogFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.pendingMu.Lock()
			w.pending[ev.Name] = struct{}{}
			w.pendingMu.Unlock()
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", "error", err)

		case <-timer.C:
			w.flush()
		}
	}
}

func (w *Watcher) flush() {
	w.pendingMu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	if len(paths) == 0 {
		return
	}

	w.logger.Warn("catalog files changed on disk; restart required to apply",
		"files", paths)
	if w.Drift != nil {
		w.Drift(paths)
	}
}

func isCatalogFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
