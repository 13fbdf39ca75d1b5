package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	eventBuffer     = 500
	defaultDebounce = 500 * time.Millisecond
)

// WatchConfig configures a DocWatcher.
type WatchConfig struct {
	// Debounce is the quiet period after the last change before the
	// collected changes are emitted.
	Debounce time.Duration

	// FileExtensions selects the document files to report, e.g. ".ndjson".
	FileExtensions []string

	// ExcludeDirs names directories that are never watched.
	ExcludeDirs []string
}

// DefaultWatchConfig watches .json and .ndjson files.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Debounce:       defaultDebounce,
		FileExtensions: []string{".json", ".ndjson"},
		ExcludeDirs:    []string{".git", "node_modules"},
	}
}

// WatchOperation is the kind of change a WatchEvent reports.
type WatchOperation string

// Watch operations.
const (
	WatchOpCreate WatchOperation = "create"
	WatchOpModify WatchOperation = "modify"
	WatchOpDelete WatchOperation = "delete"
)

// WatchEvent reports a changed document file.
type WatchEvent struct {
	Path      string // relative to the watched directory
	AbsPath   string
	Operation WatchOperation
}

// DocWatcher reports document files that appear, change content or
// disappear below a directory. Rewrites with identical content are not
// reported.
type DocWatcher struct {
	config     WatchConfig
	dir        string
	fsw        *fsnotify.Watcher
	logger     *slog.Logger
	extensions map[string]bool
	excludes   map[string]bool

	hashMu sync.RWMutex
	hashes map[string]string // relative path -> content hash

	events  chan WatchEvent
	dropped atomic.Int64
}

// NewDocWatcher creates a watcher for dir. Zero config fields fall back to
// DefaultWatchConfig.
func NewDocWatcher(config WatchConfig, dir string, logger *slog.Logger) (*DocWatcher, error) {
	defaults := DefaultWatchConfig()
	if config.Debounce <= 0 {
		config.Debounce = defaults.Debounce
	}
	if len(config.FileExtensions) == 0 {
		config.FileExtensions = defaults.FileExtensions
	}
	if len(config.ExcludeDirs) == 0 {
		config.ExcludeDirs = defaults.ExcludeDirs
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &DocWatcher{
		config:     config,
		dir:        dir,
		fsw:        fsw,
		logger:     logger,
		extensions: make(map[string]bool, len(config.FileExtensions)),
		excludes:   make(map[string]bool, len(config.ExcludeDirs)),
		hashes:     make(map[string]string),
		events:     make(chan WatchEvent, eventBuffer),
	}
	for _, ext := range config.FileExtensions {
		w.extensions["."+strings.TrimPrefix(strings.ToLower(ext), ".")] = true
	}
	for _, name := range config.ExcludeDirs {
		w.excludes[name] = true
	}
	return w, nil
}

// Events returns the event channel. It is closed once the watcher stops.
func (w *DocWatcher) Events() <-chan WatchEvent {
	return w.events
}

// Start creates dir if needed, watches it recursively and runs the event
// loop until ctx is done or Stop is called.
func (w *DocWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	if err := w.watchTree(w.dir); err != nil {
		return err
	}

	go w.run(ctx)

	w.logger.Info("Document watcher started",
		"dir", w.dir,
		"debounce", w.config.Debounce,
		"extensions", w.config.FileExtensions)
	return nil
}

// Stop closes the underlying fsnotify watcher.
func (w *DocWatcher) Stop() error {
	return w.fsw.Close()
}

// SetHash records the content hash of a file relative to the watched
// directory.
func (w *DocWatcher) SetHash(path, hash string) {
	w.hashMu.Lock()
	w.hashes[path] = hash
	w.hashMu.Unlock()
}

// GetHash returns the recorded content hash of a file.
func (w *DocWatcher) GetHash(path string) (string, bool) {
	w.hashMu.RLock()
	defer w.hashMu.RUnlock()
	hash, ok := w.hashes[path]
	return hash, ok
}

// ContentHash returns the hex SHA-256 of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// DroppedEvents counts events lost because the channel was full.
func (w *DocWatcher) DroppedEvents() int64 {
	return w.dropped.Load()
}

func (w *DocWatcher) skipDir(path string) bool {
	name := filepath.Base(path)
	return path != w.dir && (w.excludes[name] || strings.HasPrefix(name, "."))
}

func (w *DocWatcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.skipDir(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// run collects changed paths and flushes them once no change has arrived
// for the debounce period. It owns pending and closes events on exit.
func (w *DocWatcher) run(ctx context.Context) {
	defer close(w.events)

	pending := make(map[string]struct{})
	var (
		timer *time.Timer
		quiet <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.track(ev) {
				continue
			}
			pending[ev.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.config.Debounce)
			} else {
				timer.Reset(w.config.Debounce)
			}
			quiet = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-quiet:
			quiet = nil
			for path := range pending {
				if ctx.Err() != nil {
					return
				}
				delete(pending, path)
				if ev, ok := w.classify(path); ok {
					w.emit(ev)
				}
			}
		}
	}
}

// track reports whether ev concerns a document file. New directories are
// added to the watch as a side effect.
func (w *DocWatcher) track(ev fsnotify.Event) bool {
	if !w.extensions[strings.ToLower(filepath.Ext(ev.Name))] {
		if ev.Has(fsnotify.Create) {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !w.skipDir(ev.Name) {
				if err := w.watchTree(ev.Name); err != nil {
					w.logger.Warn("Failed to watch new directory", "path", ev.Name, "error", err)
				}
			}
		}
		return false
	}
	return true
}

// classify turns a changed path into an event by comparing the file's
// current content with the last hash seen for it.
func (w *DocWatcher) classify(path string) (WatchEvent, bool) {
	rel, _ := filepath.Rel(w.dir, path)
	ev := WatchEvent{Path: rel, AbsPath: path}

	content, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		w.hashMu.Lock()
		_, known := w.hashes[rel]
		delete(w.hashes, rel)
		w.hashMu.Unlock()
		ev.Operation = WatchOpDelete
		// A file that vanished before it was ever seen is not reported.
		return ev, known
	case err != nil:
		w.logger.Warn("Failed to read changed file", "path", rel, "error", err)
		return ev, false
	}

	hash := ContentHash(content)
	old, known := w.GetHash(rel)
	if known && old == hash {
		return ev, false
	}
	w.SetHash(rel, hash)

	ev.Operation = WatchOpCreate
	if known {
		ev.Operation = WatchOpModify
	}
	return ev, true
}

func (w *DocWatcher) emit(ev WatchEvent) {
	select {
	case w.events <- ev:
		w.logger.Debug("Document file changed", "path", ev.Path, "op", ev.Operation)
	default:
		n := w.dropped.Add(1)
		w.logger.Warn("Event channel full, dropping event", "path", ev.Path, "total_dropped", n)
	}
}
