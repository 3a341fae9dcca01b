// Package watcher turns filesystem activity under a root directory into
// analyses, registry updates and change events.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/wasmscope/internal/logging"
)

// FileEvent represents a raw file change under the root
type FileEvent struct {
	Type EventType
	// Path is the absolute path
	Path string
	// Rel is the slash-separated path relative to the root
	Rel string
	// Dir is set when the event concerns a directory
	Dir bool
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileWatcher watches a directory tree, adding new subdirectories as they
// appear, and reports events for paths accepted by its filter.
type FileWatcher struct {
	root    string
	watcher *fsnotify.Watcher
	filter  *PathFilter
	logger  logging.Logger

	mutex   sync.Mutex
	watched map[string]struct{}
}

// NewFileWatcher creates a watcher for root. The root must be an existing
// directory.
func NewFileWatcher(root string, filter *PathFilter, logger logging.Logger) (*FileWatcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FileWatcher{
		root:    abs,
		watcher: w,
		filter:  filter,
		logger:  logger,
		watched: make(map[string]struct{}),
	}, nil
}

// Root returns the absolute watch root.
func (fw *FileWatcher) Root() string { return fw.root }

// Rel converts an absolute path under the root into a slash-separated
// relative path. It fails for paths outside the root.
func (fw *FileWatcher) Rel(path string) (string, error) {
	rel, err := filepath.Rel(fw.root, filepath.Clean(path))
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the watch root", path)
	}
	return filepath.ToSlash(rel), nil
}

// AddRecursive watches dir and every subdirectory not excluded by the
// filter. It returns the matching files found along the way.
func (fw *FileWatcher) AddRecursive(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			fw.logger.Warn(context.Background(), err, "Skipping unreadable path", "path", path)
			return nil
		}
		rel, relErr := fw.Rel(path)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			if fw.filter.SkipDir(rel) {
				return filepath.SkipDir
			}
			if err := fw.watcher.Add(path); err != nil {
				fw.logger.Warn(context.Background(), err, "Failed to watch directory", "path", path)
				return nil
			}
			fw.mutex.Lock()
			fw.watched[path] = struct{}{}
			fw.mutex.Unlock()
			return nil
		}
		if d.Type().IsRegular() && fw.filter.Match(rel) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// Run delivers events to handle until ctx is done or the watcher is closed.
func (fw *FileWatcher) Run(ctx context.Context, handle func(FileEvent)) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event, handle)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event, handle func(FileEvent)) {
	rel, err := fw.Rel(event.Name)
	if err != nil || rel == "." {
		return
	}

	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventTypeCreated
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventTypeModified
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventTypeDeleted
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventTypeRenamed
	default:
		// chmod only
		return
	}

	switch eventType {
	case EventTypeCreated:
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if fw.filter.SkipDir(rel) {
				return
			}
			// Files may land in a new directory before it is watched.
			files, err := fw.AddRecursive(event.Name)
			if err != nil {
				fw.logger.Warn(context.Background(), err, "Failed to watch new directory", "path", event.Name)
			}
			for _, f := range files {
				if r, err := fw.Rel(f); err == nil {
					handle(FileEvent{Type: EventTypeCreated, Path: f, Rel: r})
				}
			}
			return
		}
	case EventTypeDeleted, EventTypeRenamed:
		fw.mutex.Lock()
		_, wasDir := fw.watched[event.Name]
		delete(fw.watched, event.Name)
		fw.mutex.Unlock()
		if wasDir {
			handle(FileEvent{Type: eventType, Path: event.Name, Rel: rel, Dir: true})
			return
		}
	}

	if !fw.filter.Match(rel) {
		return
	}
	handle(FileEvent{Type: eventType, Path: event.Name, Rel: rel})
}

// WatchedDirs returns the number of directories being watched.
func (fw *FileWatcher) WatchedDirs() int {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	return len(fw.watched)
}

// Close stops the underlying fsnotify watcher.
func (fw *FileWatcher) Close() error {
	return fw.watcher.Close()
}
