package watcher

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHandle builds a handle without starting its event loop, so tests
// can drive event handling directly.
func newTestHandle(t *testing.T, root string, skipDir func(string) bool) (*fsnotifyHandle, chan RawEvent) {
	t.Helper()

	w, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	sink := make(chan RawEvent, 64)
	return &fsnotifyHandle{
		root:    root,
		watcher: w,
		sink:    sink,
		skipDir: skipDir,
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}, sink
}

func drainSink(sink chan RawEvent) []RawEvent {
	var events []RawEvent
	for {
		select {
		case ev := <-sink:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func eventPaths(events []RawEvent, kind RawKind) []string {
	var paths []string
	for _, ev := range events {
		if ev.Kind == kind {
			paths = append(paths, ev.Path)
		}
	}
	return paths
}

func TestIsDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.True(t, isDir(dir))
	assert.False(t, isDir(file))
	assert.False(t, isDir(filepath.Join(dir, "missing")))
}

func TestFSNotifyHandle_NewDirectoryIsWatchedAndAnnounced(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	h, sink := newTestHandle(t, root, nil)

	created := filepath.Join(root, "incoming")
	nested := filepath.Join(created, "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(created, "a.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "b.pdf"), []byte("x"), 0o644))

	ok := h.handleFSEvent(fsnotify.Event{Name: created, Op: fsnotify.Create})
	require.True(t, ok)

	creates := eventPaths(drainSink(sink), RawCreate)
	assert.ElementsMatch(t, []string{
		filepath.Join(created, "a.pdf"),
		nested,
		filepath.Join(nested, "b.pdf"),
		created,
	}, creates)

	watched := h.watcher.WatchList()
	assert.True(t, slices.Contains(watched, created))
	assert.True(t, slices.Contains(watched, nested))
}

func TestFSNotifyHandle_FileCreateIsNotWalked(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	h, sink := newTestHandle(t, root, nil)

	file := filepath.Join(root, "a.pdf")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	require.True(t, h.handleFSEvent(fsnotify.Event{Name: file, Op: fsnotify.Create}))

	events := drainSink(sink)
	require.Len(t, events, 1)
	assert.Equal(t, file, events[0].Path)
	assert.Equal(t, RawCreate, events[0].Kind)
	assert.Empty(t, h.watcher.WatchList())
}

func TestFSNotifyHandle_SkippedDirectoryIsNotWalked(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	skip := filepath.Join(root, "node_modules")
	h, sink := newTestHandle(t, root, func(path string) bool { return path == skip })

	require.NoError(t, os.MkdirAll(skip, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skip, "pkg.json"), []byte("{}"), 0o644))

	require.True(t, h.handleFSEvent(fsnotify.Event{Name: skip, Op: fsnotify.Create}))

	events := drainSink(sink)
	assert.Equal(t, []string{skip}, eventPaths(events, RawCreate))
	assert.Empty(t, h.watcher.WatchList())
}

func TestFSNotifyHandle_ClosedHandleStopsAnnouncing(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	h, _ := newTestHandle(t, root, nil)
	h.sink = make(chan RawEvent)
	close(h.done)

	created := filepath.Join(root, "incoming")
	require.NoError(t, os.MkdirAll(created, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(created, "a.pdf"), []byte("x"), 0o644))

	assert.False(t, h.handleFSEvent(fsnotify.Event{Name: created, Op: fsnotify.Create}))
}
