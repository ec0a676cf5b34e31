package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// skipDirs are never watched: dependencies and build output.
var skipDirs = map[string]bool{
	"lib":          true,
	"node_modules": true,
	"out":          true,
	"cache":        true,
	"artifacts":    true,
}

// Change is one debounced batch of file events.
type Change struct {
	// Sources are the changed .sol files, sorted.
	Sources []string
	// Artifact is set when a build artifact was written.
	Artifact bool
}

// Watcher watches Solidity sources and the build artifact directory
type Watcher struct {
	projectPath  string
	artifactPath string
	fsWatcher    *fsnotify.Watcher

	// Debouncing
	debounceDelay time.Duration
	pendingFiles  map[string]struct{}
	pendingBuild  bool
	pendingMu     sync.Mutex
	debounceTimer *time.Timer

	// Callbacks
	onChange func(Change)
	onError  func(error)

	// Control
	done chan struct{}
	once sync.Once
}

// WatcherOption configures the watcher
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

// WithOnChange sets the callback for a batch of changes
func WithOnChange(fn func(Change)) WatcherOption {
	return func(w *Watcher) {
		w.onChange = fn
	}
}

// WithOnError sets the callback for errors
func WithOnError(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// New creates a watcher for the project tree and the artifact directory.
// The artifact directory is created if missing so the first build is seen.
func New(projectPath, artifactPath string, opts ...WatcherOption) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		projectPath:   projectPath,
		artifactPath:  filepath.Clean(artifactPath),
		fsWatcher:     fsWatcher,
		debounceDelay: 100 * time.Millisecond,
		pendingFiles:  make(map[string]struct{}),
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	if err := w.addDirs(); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to add directories to watch: %w", err)
	}
	if err := os.MkdirAll(w.artifactPath, 0o755); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := fsWatcher.Add(w.artifactPath); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch artifact directory: %w", err)
	}

	return w, nil
}

// skip reports whether a directory is left out of the source watch.
func skip(name string) bool {
	return (strings.HasPrefix(name, ".") && name != ".") || skipDirs[name]
}

// addDirs recursively adds all source directories to the watcher
func (w *Watcher) addDirs() error {
	return filepath.WalkDir(w.projectPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.projectPath && skip(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// Start begins watching for changes
func (w *Watcher) Start() {
	go w.eventLoop()
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.pendingMu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.pendingMu.Unlock()
		err = w.fsWatcher.Close()
	})
	return err
}

// eventLoop handles file system events
func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// handleEvent processes a single file system event
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// New source directories are watched too
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !skip(info.Name()) {
				w.fsWatcher.Add(event.Name)
			}
			return
		}
	}

	artifact := filepath.Dir(event.Name) == w.artifactPath &&
		strings.EqualFold(filepath.Ext(event.Name), ".json") &&
		event.Op&(fsnotify.Write|fsnotify.Create) != 0
	source := strings.HasSuffix(event.Name, ".sol")
	if !artifact && !source {
		return
	}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if artifact {
		w.pendingBuild = true
	} else {
		w.pendingFiles[event.Name] = struct{}{}
	}

	// Reset debounce timer
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.flush)
}

// flush reports the pending batch after debounce
func (w *Watcher) flush() {
	w.pendingMu.Lock()
	change := Change{Artifact: w.pendingBuild}
	for f := range w.pendingFiles {
		change.Sources = append(change.Sources, f)
	}
	w.pendingFiles = make(map[string]struct{})
	w.pendingBuild = false
	w.pendingMu.Unlock()

	if len(change.Sources) == 0 && !change.Artifact {
		return
	}
	select {
	case <-w.done:
		return
	default:
	}
	sort.Strings(change.Sources)
	if w.onChange != nil {
		w.onChange(change)
	}
}
