// Package watch tracks files created or modified under the agent's working
// directory while a session runs. The bridge reads the accumulated change
// set for the files command and the status report.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quillback/parley/internal/config"
	"github.com/quillback/parley/internal/errors"
	"github.com/quillback/parley/internal/logging"
)

// defaultListLimit bounds a Changes listing when the caller passes no limit.
const defaultListLimit = 50

// Change is one file changed under the watched root.
type Change struct {
	// Path is relative to the watched root.
	Path string
	// ModTime is when the change was last observed.
	ModTime time.Time
}

// Watcher records file creations and writes under a root directory,
// recursively, with a debounce window so editor save bursts collapse into
// one recorded change. Directory events extend the watch into newly created
// subtrees. Excluded and hidden directories are never descended into.
type Watcher struct {
	cfg    config.WatchConfig
	logger *logging.Logger

	mu      sync.RWMutex
	root    string
	changes map[string]time.Time
	fsw     *fsnotify.Watcher
	quit    chan struct{}
	done    chan struct{}
}

// NewWatcher builds an idle watcher. Call Start to begin tracking.
func NewWatcher(cfg config.WatchConfig, logger *logging.Logger) *Watcher {
	if logger == nil {
		panic("watch: NewWatcher requires a logger")
	}
	return &Watcher{
		cfg:     cfg,
		logger:  logger.WithComponent("watch"),
		changes: make(map[string]time.Time),
	}
}

// Start begins watching root and all its current subdirectories. Starting an
// already started watcher is an error; use Rebase to move to a new root.
func (w *Watcher) Start(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw != nil {
		return errors.New("watcher already started")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}

	w.fsw = fsw
	w.root = root
	w.quit = make(chan struct{})
	w.done = make(chan struct{})

	if err := w.watchTreeLocked(root, false); err != nil {
		_ = fsw.Close()
		w.fsw = nil
		return fmt.Errorf("watch %s: %w", root, err)
	}

	go w.loop(fsw, w.quit, w.done)
	w.logger.Info("workspace watch started", "root", root)
	return nil
}

// Stop ends watching and releases the underlying watcher. Safe to call more
// than once and before Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	fsw := w.fsw
	quit := w.quit
	done := w.done
	w.fsw = nil
	w.mu.Unlock()

	close(quit)
	_ = fsw.Close()
	<-done
	w.logger.Debug("workspace watch stopped")
}

// Rebase moves the watch to a new root and clears the recorded change set.
// Used when the working directory changes between sessions.
func (w *Watcher) Rebase(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw == nil {
		return errors.New("watcher not started")
	}
	for _, watched := range w.fsw.WatchList() {
		_ = w.fsw.Remove(watched)
	}
	w.changes = make(map[string]time.Time)
	w.root = root

	if err := w.watchTreeLocked(root, false); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	w.logger.Info("workspace watch moved", "root", root)
	return nil
}

// Reset clears the recorded change set, keeping the watch in place. Used
// when a new session starts in the same directory.
func (w *Watcher) Reset() {
	w.mu.Lock()
	w.changes = make(map[string]time.Time)
	w.mu.Unlock()
}

// Count returns the number of distinct files recorded as changed.
func (w *Watcher) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.changes)
}

// Changes lists recorded changes, most recent first, at most limit entries.
// A non-positive limit applies a default cap.
func (w *Watcher) Changes(limit int) []Change {
	if limit <= 0 {
		limit = defaultListLimit
	}

	w.mu.RLock()
	list := make([]Change, 0, len(w.changes))
	for path, mod := range w.changes {
		list = append(list, Change{Path: path, ModTime: mod})
	}
	w.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].ModTime.Equal(list[j].ModTime) {
			return list[i].ModTime.After(list[j].ModTime)
		}
		return list[i].Path < list[j].Path
	})
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

// watchTreeLocked walks root and adds every non-excluded directory to the
// watcher. When record is set, files found along the way are recorded as
// changes; that covers files that landed in a directory created moments
// before its watch was in place.
func (w *Watcher) watchTreeLocked(root string, record bool) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if info.IsDir() {
			if path != root && w.skipDir(filepath.Base(path)) {
				return filepath.SkipDir
			}
			if addErr := w.fsw.Add(path); addErr != nil {
				if path == root {
					return addErr
				}
				w.logger.Debug("cannot watch directory", "path", path, "error", addErr.Error())
			}
			return nil
		}
		if record {
			w.recordLocked(path, info.ModTime())
		}
		return nil
	})
}

// loop drains watcher events, coalescing bursts inside the debounce window
// before folding them into the change set.
func (w *Watcher) loop(fsw *fsnotify.Watcher, quit, done chan struct{}) {
	defer close(done)

	debounce := w.cfg.Debounce()
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	pending := make(map[string]time.Time)
	for {
		select {
		case <-quit:
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			pending[ev.Name] = time.Now()
			timer.Reset(debounce)

		case <-timer.C:
			flush := pending
			pending = make(map[string]time.Time)
			for path, at := range flush {
				w.handlePath(path, at)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watch error", "error", err.Error())
		}
	}
}

// handlePath folds one debounced event target into the change set. A new
// directory extends the watch into its subtree and records the files the
// burst already left inside it.
func (w *Watcher) handlePath(path string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}

	if w.excluded(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		// Deleted between event and flush; creations that vanished are
		// not interesting changes.
		return
	}
	if info.IsDir() {
		if err := w.watchTreeLocked(path, true); err != nil {
			w.logger.Debug("cannot extend watch", "path", path, "error", err.Error())
		}
		return
	}
	w.recordLocked(path, at)
}

func (w *Watcher) recordLocked(path string, at time.Time) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	w.changes[rel] = at
}

// excluded reports whether any component of path, relative to the root, is
// an excluded or hidden name. Hidden files are skipped along with hidden
// directories: editor temp and swap files are churn, not workspace output.
func (w *Watcher) excluded(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") {
			return true
		}
		for _, dir := range w.cfg.ExcludeDirs {
			if part == dir {
				return true
			}
		}
	}
	return false
}

// skipDir reports whether a directory name is excluded from the walk.
func (w *Watcher) skipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, dir := range w.cfg.ExcludeDirs {
		if name == dir {
			return true
		}
	}
	return false
}
