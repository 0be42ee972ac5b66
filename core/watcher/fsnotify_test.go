//go:build fsnotify

package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fsCollect drains sink until timeout.
func fsCollect(sink <-chan RawEvent, timeout time.Duration) []RawEvent {
	var events []RawEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-sink:
			events = append(events, ev)
		case <-deadline:
			return events
		}
	}
}

func fsHasEvent(events []RawEvent, path string, kind RawKind) bool {
	for _, ev := range events {
		if ev.Path == path && ev.Kind == kind {
			return true
		}
	}
	return false
}

func TestFSNotifyBackend_CreateAndRemove(t *testing.T) {
	dir := t.TempDir()
	sink := make(chan RawEvent, 64)

	h, err := NewFSNotifyBackend(BackendOptions{}).Watch(dir, sink)
	require.NoError(t, err)
	defer h.Close()

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, os.Remove(path))

	events := fsCollect(sink, 500*time.Millisecond)
	assert.True(t, fsHasEvent(events, path, RawCreate))
	assert.True(t, fsHasEvent(events, path, RawRemove))
}

func TestFSNotifyBackend_NewDirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	sink := make(chan RawEvent, 64)

	h, err := NewFSNotifyBackend(BackendOptions{}).Watch(dir, sink)
	require.NoError(t, err)
	defer h.Close()

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	fsCollect(sink, 200*time.Millisecond)

	nested := filepath.Join(sub, "b.txt")
	require.NoError(t, os.WriteFile(nested, []byte("x"), 0644))

	events := fsCollect(sink, 500*time.Millisecond)
	assert.True(t, fsHasEvent(events, nested, RawCreate))
}

func TestFSNotifyBackend_SkipDir(t *testing.T) {
	dir := t.TempDir()
	hidden := filepath.Join(dir, ".git")
	require.NoError(t, os.Mkdir(hidden, 0755))

	sink := make(chan RawEvent, 64)
	backend := NewFSNotifyBackend(BackendOptions{
		SkipDir: func(p string) bool { return strings.HasPrefix(filepath.Base(p), ".") },
	})
	h, err := backend.Watch(dir, sink)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, os.WriteFile(filepath.Join(hidden, "HEAD"), []byte("x"), 0644))
	events := fsCollect(sink, 300*time.Millisecond)
	assert.False(t, fsHasEvent(events, filepath.Join(hidden, "HEAD"), RawCreate))
}

func TestFSNotifyBackend_InvalidRoot(t *testing.T) {
	sink := make(chan RawEvent, 1)
	backend := NewFSNotifyBackend(BackendOptions{})

	_, err := backend.Watch(filepath.Join(t.TempDir(), "missing"), sink)
	assert.ErrorIs(t, err, ErrPathNotExist)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = backend.Watch(file, sink)
	assert.ErrorIs(t, err, ErrPathNotDirectory)
}

func TestFSNotifyBackend_CloseUnblocksFullSink(t *testing.T) {
	dir := t.TempDir()
	sink := make(chan RawEvent)

	h, err := NewFSNotifyBackend(BackendOptions{}).Watch(dir, sink)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), nil, 0644))
	time.Sleep(100 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = h.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a full sink")
	}
}
