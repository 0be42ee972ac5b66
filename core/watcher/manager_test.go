package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scouterrors "github.com/adalundhe/scout/core/errors"
)

// =============================================================================
// Fake backend
// =============================================================================

type fakeHandle struct {
	once   sync.Once
	closed chan struct{}
}

func (h *fakeHandle) Close() error {
	h.once.Do(func() { close(h.closed) })
	return nil
}

type fakeBackend struct {
	mu      sync.Mutex
	fail    map[string]error
	sinks   map[string]chan<- RawEvent
	handles map[string]*fakeHandle
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		fail:    make(map[string]error),
		sinks:   make(map[string]chan<- RawEvent),
		handles: make(map[string]*fakeHandle),
	}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Watch(root string, sink chan<- RawEvent) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fail[root]; err != nil {
		return nil, err
	}
	h := &fakeHandle{closed: make(chan struct{})}
	b.sinks[root] = sink
	b.handles[root] = h
	return h, nil
}

func (b *fakeBackend) send(root string, ev RawEvent) {
	b.mu.Lock()
	sink := b.sinks[root]
	b.mu.Unlock()
	sink <- ev
}

func (b *fakeBackend) isClosed(root string) bool {
	b.mu.Lock()
	h := b.handles[root]
	b.mu.Unlock()
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestManager_SyncStartsAndStops(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	var stoppedDirs []string
	m := NewManager(ManagerOptions{
		Backend: backend,
		OnStop:  func(dir string) { stoppedDirs = append(stoppedDirs, dir) },
	})
	defer m.Close()

	started, stopped := m.Sync(context.Background(), []string{"/a", "/b/"})
	assert.Equal(t, []string{"/a", "/b"}, started)
	assert.Empty(t, stopped)
	assert.Equal(t, []string{"/a", "/b"}, m.Watched())

	started, stopped = m.Sync(context.Background(), []string{"/b", "/c"})
	assert.Equal(t, []string{"/c"}, started)
	assert.Equal(t, []string{"/a"}, stopped)
	assert.Equal(t, []string{"/b", "/c"}, m.Watched())
	assert.True(t, backend.isClosed("/a"))
	assert.Equal(t, []string{"/a"}, stoppedDirs)
}

func TestManager_FailedStartIsolated(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.fail["/bad"] = errors.New("permission denied")

	var reported []error
	m := NewManager(ManagerOptions{
		Backend: backend,
		OnError: func(_ string, err error) { reported = append(reported, err) },
	})
	defer m.Close()

	started, _ := m.Sync(context.Background(), []string{"/bad", "/good1", "/good2"})
	assert.Equal(t, []string{"/good1", "/good2"}, started)
	assert.Equal(t, []string{"/good1", "/good2"}, m.Watched())

	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], scouterrors.ErrWatchSetupFailed)

	var werr *scouterrors.Error
	require.ErrorAs(t, reported[0], &werr)
	assert.Equal(t, "/bad", werr.Path)
}

func TestManager_AddIdempotent(t *testing.T) {
	t.Parallel()

	m := NewManager(ManagerOptions{Backend: newFakeBackend()})
	defer m.Close()

	require.NoError(t, m.Add("/a"))
	require.NoError(t, m.Add("/a"))
	assert.Equal(t, []string{"/a"}, m.Watched())
	assert.False(t, m.Remove("/missing"))
}

func TestManager_ForwardsEvents(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	m := NewManager(ManagerOptions{Backend: backend})
	defer m.Close()

	require.NoError(t, m.Add("/a"))
	backend.send("/a", RawEvent{Path: "/a/x.txt", Kind: RawCreate, Root: "/a"})

	select {
	case ev := <-m.Events():
		assert.Equal(t, "/a/x.txt", ev.Path)
		assert.Equal(t, RawCreate, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for forwarded event")
	}
}

func TestManager_OverflowCallsHook(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	overflowed := make(chan string, 1)
	m := NewManager(ManagerOptions{
		Backend:    backend,
		OnOverflow: func(dir string) { overflowed <- dir },
	})
	defer m.Close()

	require.NoError(t, m.Add("/a"))
	backend.send("/a", RawEvent{Path: "/a", Kind: RawOverflow, Root: "/a"})

	select {
	case dir := <-overflowed:
		assert.Equal(t, "/a", dir)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for overflow hook")
	}
	assert.Empty(t, m.Events())
}

func TestManager_CloseClosesEvents(t *testing.T) {
	t.Parallel()

	m := NewManager(ManagerOptions{Backend: newFakeBackend()})
	require.NoError(t, m.Add("/a"))

	m.Close()
	m.Close()

	_, ok := <-m.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, m.Add("/b"), ErrManagerClosed)
}

// gatedBackend holds every Watch call until release is closed.
type gatedBackend struct {
	*fakeBackend
	entered chan string
	release chan struct{}
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{
		fakeBackend: newFakeBackend(),
		entered:     make(chan string, 4),
		release:     make(chan struct{}),
	}
}

func (b *gatedBackend) Watch(root string, sink chan<- RawEvent) (Handle, error) {
	b.entered <- root
	<-b.release
	return b.fakeBackend.Watch(root, sink)
}

func TestManager_SlowSetupDoesNotBlockQueries(t *testing.T) {
	t.Parallel()

	backend := newGatedBackend()
	m := NewManager(ManagerOptions{Backend: backend})
	defer m.Close()

	added := make(chan error, 1)
	go func() { added <- m.Add("/slow") }()

	select {
	case <-backend.entered:
	case <-time.After(time.Second):
		t.Fatal("Watch was not called")
	}

	queried := make(chan []string, 1)
	go func() { queried <- m.Watched() }()

	select {
	case dirs := <-queried:
		assert.Empty(t, dirs)
	case <-time.After(time.Second):
		t.Fatal("Watched blocked behind a pending Watch")
	}
	assert.False(t, m.IsWatched("/slow"))

	// A second Add for the same directory while setup is in flight is a no-op.
	require.NoError(t, m.Add("/slow"))

	close(backend.release)
	require.NoError(t, <-added)
	assert.Equal(t, []string{"/slow"}, m.Watched())
}

func TestManager_RemoveDuringSetupClosesHandle(t *testing.T) {
	t.Parallel()

	backend := newGatedBackend()
	m := NewManager(ManagerOptions{Backend: backend})
	defer m.Close()

	added := make(chan error, 1)
	go func() { added <- m.Add("/gone") }()
	<-backend.entered

	assert.False(t, m.Remove("/gone"))
	close(backend.release)

	require.NoError(t, <-added)
	assert.Empty(t, m.Watched())
	assert.True(t, backend.isClosed("/gone"))
}

func TestManager_CloseDuringSetupClosesHandle(t *testing.T) {
	t.Parallel()

	backend := newGatedBackend()
	m := NewManager(ManagerOptions{Backend: backend})

	added := make(chan error, 1)
	go func() { added <- m.Add("/late") }()
	<-backend.entered

	m.Close()
	close(backend.release)

	assert.ErrorIs(t, <-added, ErrManagerClosed)
	assert.True(t, backend.isClosed("/late"))
}
