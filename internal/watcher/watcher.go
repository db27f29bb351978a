// Package watcher implements the event-driven watch loop of §4.H: index
// once on startup, register a recursive filesystem watch, then debounce
// bursts of events into a single re-index per debounce window.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/riverglass/codegraph/internal/indexer"
)

// minDebounce is the floor applied to the configured debounce window.
const minDebounce = 50 * time.Millisecond

// IndexFunc triggers one indexing pass. full forces a complete rebuild
// (used after a watcher error, per the "force full rescan" flag).
type IndexFunc func(ctx context.Context, full bool) error

// Watcher drives a recursive fsnotify watch over a repository root,
// coalescing bursts of filesystem events into single re-index calls.
type Watcher struct {
	repoRoot     string
	stateDirName string
	debounce     time.Duration
	indexFn      IndexFunc
	fsWatcher    *fsnotify.Watcher
}

// New creates a Watcher rooted at repoRoot. stateDirName names the
// directory holding persisted state (never watched); debounceMS is
// clamped up to minDebounce.
func New(repoRoot, stateDirName string, debounceMS int, indexFn IndexFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}
	debounce := time.Duration(debounceMS) * time.Millisecond
	if debounce < minDebounce {
		debounce = minDebounce
	}
	return &Watcher{
		repoRoot:     repoRoot,
		stateDirName: stateDirName,
		debounce:     debounce,
		indexFn:      indexFn,
		fsWatcher:    fsw,
	}, nil
}

// Close releases the underlying filesystem watch.
func (w *Watcher) Close() error {
	return w.fsWatcher.Close()
}

// Run performs the startup index (full or incremental per fullFirst),
// registers the recursive watch, then drives the event loop until ctx is
// canceled or the watcher's channels close.
func (w *Watcher) Run(ctx context.Context, fullFirst bool) error {
	if err := w.indexFn(ctx, fullFirst); err != nil {
		return fmt.Errorf("startup index: %w", err)
	}
	if err := w.addWatches(); err != nil {
		return fmt.Errorf("register watches: %w", err)
	}
	defer w.fsWatcher.Close()
	return w.eventLoop(ctx)
}

// addWatches walks repoRoot and registers every directory that discovery
// would itself descend into, skipping the same ignored names.
func (w *Watcher) addWatches() error {
	return filepath.Walk(w.repoRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		name := info.Name()
		if path != w.repoRoot && (name == w.stateDirName || indexer.IgnoreDirs[name]) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// maybeWatchNewDir registers a newly created directory so the recursive
// watch survives directories that didn't exist at startup — their own
// future Create events extend coverage to their descendants in turn.
func (w *Watcher) maybeWatchNewDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	name := filepath.Base(path)
	if name == w.stateDirName || indexer.IgnoreDirs[name] {
		return
	}
	if err := w.fsWatcher.Add(path); err != nil {
		slog.Warn("watcher.add_dir_failed", "path", path, "err", err)
	}
}

// eventLoop waits for the first relevant event, opens a debounce window,
// and triggers exactly one re-index per window.
func (w *Watcher) eventLoop(ctx context.Context) error {
	forceFull := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				w.maybeWatchNewDir(ev.Name)
			}
			if !w.isRelevant(ev) {
				continue
			}
			var err error
			forceFull, err = w.drainWindow(ctx, forceFull)
			if err != nil {
				return err
			}
			if err := w.indexFn(ctx, forceFull); err != nil {
				slog.Warn("watcher.index_failed", "err", err)
			}
			forceFull = false
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher.fs_error", "err", err)
			forceFull = true
		}
	}
}

// drainWindow holds the debounce window open for its fixed length,
// counted from the event that opened it, draining further events with
// deadline-bounded receives; later events do not extend it. It returns the force-full flag as possibly escalated by a watcher
// error observed during the window.
func (w *Watcher) drainWindow(ctx context.Context, forceFull bool) (bool, error) {
	timer := time.NewTimer(w.debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return forceFull, ctx.Err()
		case <-timer.C:
			return forceFull, nil
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return forceFull, nil
			}
			if ev.Op&fsnotify.Create != 0 {
				w.maybeWatchNewDir(ev.Name)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return forceFull, nil
			}
			slog.Warn("watcher.fs_error", "err", err)
			forceFull = true
		}
	}
}

// isRelevant classifies one event. An event with no path is conservatively
// treated as relevant; an event whose path lies outside the repo root, or
// whose first path component is the state directory or an ignored
// directory, is dropped.
func (w *Watcher) isRelevant(ev fsnotify.Event) bool {
	if ev.Name == "" {
		return true
	}
	rel, err := filepath.Rel(w.repoRoot, ev.Name)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	first := strings.Split(filepath.ToSlash(rel), "/")[0]
	if first == w.stateDirName || indexer.IgnoreDirs[first] {
		return false
	}
	return true
}
