package flow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Loader owns the current graph snapshot and reloads it from disk, either
// on an explicit signal or when the file changes.
type Loader struct {
	path     string
	logger   *slog.Logger
	snapshot atomic.Pointer[Graph]

	// onReload observers run after a successful reload (the string
	// catalog subscribes here).
	onReload []func(*Graph)
}

// NewLoader creates a loader for the given export file. The file may be
// absent at startup; the graph stays nil until it appears.
func NewLoader(path string, logger *slog.Logger) *Loader {
	return &Loader{path: path, logger: logger}
}

// OnReload registers an observer called with every new snapshot,
// including the initial load. Not safe to call after Load/Watch started.
func (l *Loader) OnReload(fn func(*Graph)) {
	l.onReload = append(l.onReload, fn)
}

// Graph returns the current snapshot, or nil when none is loaded.
func (l *Loader) Graph() *Graph {
	return l.snapshot.Load()
}

// Load parses the export file and swaps the snapshot.
func (l *Loader) Load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("cannot read flow file %s: %w", l.path, err)
	}
	graph, err := ParseExport(data)
	if err != nil {
		return err
	}
	l.snapshot.Store(graph)
	for _, fn := range l.onReload {
		fn(graph)
	}
	l.logger.Info("dialogue flow loaded", "path", l.path, "messages", len(graph.Messages()))
	return nil
}

// Reload re-parses the file, keeping the old snapshot on failure.
func (l *Loader) Reload() {
	if err := l.Load(); err != nil {
		l.logger.Error("flow reload failed, keeping previous snapshot", "error", err)
	}
}

// Watch reloads the graph whenever the file is rewritten on disk.
// Blocks until the context is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cannot create flow watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and importers replace the file.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("cannot watch %s: %w", dir, err)
	}

	l.logger.Info("flow watcher started", "path", l.path)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("flow watcher stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != l.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				l.logger.Info("flow file changed", "op", event.Op.String())
				l.Reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("flow watcher error", "error", err)
		}
	}
}
