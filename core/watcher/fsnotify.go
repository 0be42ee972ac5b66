package watcher

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// FSNotifyBackend
// =============================================================================

// FSNotifyBackend watches directory trees with fsnotify. fsnotify is not
// recursive, so every subdirectory is registered on its own and new
// directories are picked up as they are created.
type FSNotifyBackend struct {
	skipDir func(path string) bool
}

// NewFSNotifyBackend creates an fsnotify backend.
func NewFSNotifyBackend(opts BackendOptions) *FSNotifyBackend {
	return &FSNotifyBackend{skipDir: opts.SkipDir}
}

// Name returns "fsnotify".
func (b *FSNotifyBackend) Name() string { return BackendFSNotify }

// Watch registers root and all of its subdirectories.
func (b *FSNotifyBackend) Watch(root string, sink chan<- RawEvent) (Handle, error) {
	if err := validateRoot(root); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	h := &fsnotifyHandle{
		root:    root,
		watcher: w,
		sink:    sink,
		skipDir: b.skipDir,
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}

	if err := w.Add(root); err != nil {
		_ = w.Close()
		return nil, err
	}
	h.addDirectoryRecursive(root, false)

	go h.processEvents()
	return h, nil
}

// =============================================================================
// fsnotifyHandle
// =============================================================================

type fsnotifyHandle struct {
	root    string
	watcher *fsnotify.Watcher
	sink    chan<- RawEvent
	skipDir func(path string) bool

	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

// Close stops the event loop and releases the fsnotify watcher.
func (h *fsnotifyHandle) Close() error {
	var err error
	h.stopOnce.Do(func() {
		close(h.done)
		err = h.watcher.Close()
		<-h.exited
	})
	return err
}

// addDirectoryRecursive registers every directory under dir. When announce
// is set, entries found on the way are emitted as creates: they appeared
// before the new directory's watch was in place.
func (h *fsnotifyHandle) addDirectoryRecursive(dir string, announce bool) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip paths with errors
		}
		if path == dir {
			if d.IsDir() && path != h.root {
				_ = h.watcher.Add(path)
			}
			return nil
		}

		if d.IsDir() {
			if h.skipDir != nil && h.skipDir(path) {
				return filepath.SkipDir
			}
			_ = h.watcher.Add(path)
		}

		if announce {
			if !h.emit(path, RawCreate) {
				return fs.SkipAll
			}
		}
		return nil
	})
}

// =============================================================================
// Event Processing
// =============================================================================

func (h *fsnotifyHandle) processEvents() {
	defer close(h.exited)

	for {
		if shouldStop := h.processOnce(); shouldStop {
			return
		}
	}
}

// processOnce processes one iteration of the event loop.
// Returns true if the loop should stop.
func (h *fsnotifyHandle) processOnce() bool {
	select {
	case <-h.done:
		return true
	case event, ok := <-h.watcher.Events:
		if !ok {
			return true
		}
		return !h.handleFSEvent(event)
	case err, ok := <-h.watcher.Errors:
		if !ok {
			return true
		}
		if errors.Is(err, fsnotify.ErrEventOverflow) {
			return !h.emit(h.root, RawOverflow)
		}
		return false
	}
}

// fsOpMappings maps fsnotify operations to raw kinds, checked in order.
var fsOpMappings = []struct {
	op   fsnotify.Op
	kind RawKind
}{
	{fsnotify.Create, RawCreate},
	{fsnotify.Remove, RawRemove},
	{fsnotify.Rename, RawRenameFrom},
	{fsnotify.Write, RawModify},
	{fsnotify.Chmod, RawModify},
}

func mapFSOp(op fsnotify.Op) RawKind {
	for _, m := range fsOpMappings {
		if op.Has(m.op) {
			return m.kind
		}
	}
	return RawOther
}

// handleFSEvent forwards one event. Returns false once the handle is closed.
func (h *fsnotifyHandle) handleFSEvent(event fsnotify.Event) bool {
	kind := mapFSOp(event.Op)

	if kind == RawCreate {
		if ok := h.handlePossibleNewDirectory(event.Name); !ok {
			return false
		}
	}
	return h.emit(event.Name, kind)
}

// handlePossibleNewDirectory starts watching a newly created directory.
func (h *fsnotifyHandle) handlePossibleNewDirectory(path string) bool {
	if !isDir(path) {
		return true
	}
	if h.skipDir != nil && h.skipDir(path) {
		return true
	}
	h.addDirectoryRecursive(path, true)

	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// emit blocks until the event is queued or the handle is closed.
func (h *fsnotifyHandle) emit(path string, kind RawKind) bool {
	ev := RawEvent{Path: path, Kind: kind, Root: h.root, Time: time.Now()}
	select {
	case h.sink <- ev:
		return true
	case <-h.done:
		return false
	}
}
