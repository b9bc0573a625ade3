package watcher

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType represents the type of file system event
type EventType string

const (
	EventCreate EventType = "create"
	EventModify EventType = "modify"
	EventDelete EventType = "delete"
	EventRename EventType = "rename"
)

// Event represents a file system event
type Event struct {
	Path string
	// Rel is Path relative to the watched root, slash separated.
	Rel  string
	Type EventType
}

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	// Exclude reports whether a root-relative path is ignored. Excluded
	// directories are not watched.
	Exclude func(rel string) bool
	Logger  *slog.Logger
}

// Watcher watches a directory tree for file system events with debouncing
type Watcher struct {
	root       string
	opts       Options
	callback   func(Event)
	watcher    *fsnotify.Watcher
	logger     *slog.Logger
	done       chan struct{}
	started    bool
	closed     bool
	mu         sync.Mutex
	debouncer  map[string]*time.Timer
	debounceMu sync.Mutex
}

// New creates a new Watcher for root and every directory below it
func New(root string, opts Options, callback func(Event)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &Watcher{
		root:      filepath.Clean(root),
		opts:      opts,
		callback:  callback,
		watcher:   watcher,
		logger:    logger.With("component", "watcher"),
		done:      make(chan struct{}),
		debouncer: make(map[string]*time.Timer),
	}

	if err := w.addTree(w.root); err != nil {
		watcher.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) excluded(path string) bool {
	if w.opts.Exclude == nil || path == w.root {
		return false
	}
	return w.opts.Exclude(w.rel(path))
}

// addTree watches dir and its subdirectories, skipping excluded ones
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("failed to watch path %s: %w", path, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.excluded(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch path %s: %w", path, err)
		}
		return nil
	})
}

// Start starts watching for events
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}

	if w.started {
		return fmt.Errorf("watcher already started")
	}

	w.started = true

	go w.watch()

	return nil
}

// Close stops watching and cleans up resources
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	if w.started {
		close(w.done)
	}

	// Cancel all pending debounce timers
	w.debounceMu.Lock()
	for _, timer := range w.debouncer {
		timer.Stop()
	}
	w.debouncer = make(map[string]*time.Timer)
	w.debounceMu.Unlock()

	return w.watcher.Close()
}

// watch is the main event loop
func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// handleEvent processes a fsnotify event with debouncing
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.excluded(event.Name) {
		return
	}

	var eventType EventType

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventCreate
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventModify
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventDelete
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventRename
	default:
		// Chmod and unknown events are ignored
		return
	}

	w.debounceEvent(Event{
		Path: event.Name,
		Rel:  w.rel(event.Name),
		Type: eventType,
	})
}

// debounceEvent debounces events for the same file
func (w *Watcher) debounceEvent(e Event) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	// Cancel existing timer for this path if any
	if timer, exists := w.debouncer[e.Path]; exists {
		timer.Stop()
	}

	w.debouncer[e.Path] = time.AfterFunc(w.opts.Debounce, func() {
		w.debounceMu.Lock()
		delete(w.debouncer, e.Path)
		w.debounceMu.Unlock()

		w.callback(e)
	})
}
