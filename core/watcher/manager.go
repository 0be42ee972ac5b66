package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	scouterrors "github.com/adalundhe/scout/core/errors"
)

// ErrManagerClosed is returned by Add after Close.
var ErrManagerClosed = errors.New("watch manager closed")

// DefaultQueueSize is the capacity of each per-directory queue.
const DefaultQueueSize = 256

// =============================================================================
// Manager
// =============================================================================

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Backend Backend

	// QueueSize bounds each directory's native hand-off queue and the shared
	// output channel.
	QueueSize int

	// OnError is called when a directory's watch fails to start.
	OnError func(dir string, err error)

	// OnOverflow is called when a backend reports lost events under dir.
	OnOverflow func(dir string)

	// OnStop is called after a directory's watch has been torn down.
	OnStop func(dir string)

	Logger *slog.Logger
}

// Manager keeps exactly one native watch per directory. Every watch owns a
// bounded queue fed by the backend and a receiver goroutine that forwards
// into the shared Events channel.
type Manager struct {
	backend    Backend
	queueSize  int
	onError    func(string, error)
	onOverflow func(string)
	onStop     func(string)
	logger     *slog.Logger

	out chan RawEvent

	mu      sync.Mutex
	watches map[string]*watch
	pending map[string]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type watch struct {
	dir    string
	handle Handle
	queue  chan RawEvent
	stop   chan struct{}
	done   chan struct{}
}

// NewManager creates a watch manager.
func NewManager(opts ManagerOptions) *Manager {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		backend:    opts.Backend,
		queueSize:  size,
		onError:    opts.OnError,
		onOverflow: opts.OnOverflow,
		onStop:     opts.OnStop,
		logger:     logger,
		out:        make(chan RawEvent, size),
		watches:    make(map[string]*watch),
		pending:    make(map[string]struct{}),
	}
}

// Events returns the merged raw event stream of all watches. It is closed
// by Close.
func (m *Manager) Events() <-chan RawEvent {
	return m.out
}

// Watched returns the watched directories, sorted.
func (m *Manager) Watched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	dirs := make([]string, 0, len(m.watches))
	for dir := range m.watches {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// IsWatched reports whether dir has a live watch.
func (m *Manager) IsWatched(dir string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watches[filepath.Clean(dir)]
	return ok
}

// =============================================================================
// Reconciliation
// =============================================================================

// Sync reconciles the live watches with desired. Directories missing from
// desired are stopped; new ones are started independently of each other.
// It returns the directories that were started and stopped.
func (m *Manager) Sync(ctx context.Context, desired []string) (started, stopped []string) {
	want := make(map[string]struct{}, len(desired))
	for _, dir := range desired {
		want[filepath.Clean(dir)] = struct{}{}
	}

	for _, dir := range m.Watched() {
		if _, ok := want[dir]; !ok {
			if m.Remove(dir) {
				stopped = append(stopped, dir)
			}
		}
	}

	add := make([]string, 0, len(want))
	for dir := range want {
		add = append(add, dir)
	}
	sort.Strings(add)

	for _, dir := range add {
		if ctx.Err() != nil {
			break
		}
		if m.IsWatched(dir) {
			continue
		}
		if err := m.Add(dir); err == nil {
			started = append(started, dir)
		}
	}
	return started, stopped
}

// Add starts watching dir. Adding a watched directory is a no-op. A start
// failure is reported through OnError and returned as WatchSetupFailed; it
// is not retried.
//
// The backend call runs without the manager lock held, so a slow native
// setup does not stall Watched, IsWatched or Remove. The directory is
// reserved for the duration; a Remove or Close that lands meanwhile cancels
// the reservation and the new handle is closed again.
func (m *Manager) Add(dir string) error {
	dir = filepath.Clean(dir)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if _, ok := m.watches[dir]; ok {
		m.mu.Unlock()
		return nil
	}
	if _, ok := m.pending[dir]; ok {
		m.mu.Unlock()
		return nil
	}
	m.pending[dir] = struct{}{}
	m.mu.Unlock()

	queue := make(chan RawEvent, m.queueSize)
	handle, err := m.backend.Watch(dir, queue)

	m.mu.Lock()
	_, reserved := m.pending[dir]
	delete(m.pending, dir)
	closed := m.closed

	if err != nil {
		m.mu.Unlock()
		werr := scouterrors.New(scouterrors.KindWatchSetupFailed, "watch.add", err).WithPath(dir)
		m.logger.Error("watch setup failed", "dir", dir, "backend", m.backend.Name(), "error", err)
		if m.onError != nil {
			m.onError(dir, werr)
		}
		return werr
	}

	if closed || !reserved {
		m.mu.Unlock()
		if cerr := handle.Close(); cerr != nil {
			m.logger.Warn("watch close failed", "dir", dir, "error", cerr)
		}
		if closed {
			return ErrManagerClosed
		}
		return nil
	}

	w := &watch{
		dir:    dir,
		handle: handle,
		queue:  queue,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.watches[dir] = w
	m.wg.Add(1)
	m.mu.Unlock()

	go m.receive(w)

	m.logger.Info("watching directory", "dir", dir, "backend", m.backend.Name())
	return nil
}

// Remove stops watching dir. Returns false if dir was not watched. A watch
// still being set up by Add is cancelled.
func (m *Manager) Remove(dir string) bool {
	dir = filepath.Clean(dir)

	m.mu.Lock()
	w, ok := m.watches[dir]
	if ok {
		delete(m.watches, dir)
	}
	delete(m.pending, dir)
	m.mu.Unlock()

	if !ok {
		return false
	}

	m.stopWatch(w)
	m.logger.Info("stopped watching directory", "dir", dir)
	return true
}

// Close stops every watch and closes the Events channel.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	watches := make([]*watch, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
	}
	m.watches = make(map[string]*watch)
	m.pending = make(map[string]struct{})
	m.mu.Unlock()

	for _, w := range watches {
		m.stopWatch(w)
	}
	m.wg.Wait()
	close(m.out)
}

func (m *Manager) stopWatch(w *watch) {
	close(w.stop)
	if err := w.handle.Close(); err != nil {
		m.logger.Warn("watch close failed", "dir", w.dir, "error", err)
	}
	<-w.done
	if m.onStop != nil {
		m.onStop(w.dir)
	}
}

// =============================================================================
// Receiver
// =============================================================================

// receive is the supervisory loop for one directory.
func (m *Manager) receive(w *watch) {
	defer m.wg.Done()
	defer close(w.done)

	for {
		select {
		case <-w.stop:
			return
		case ev := <-w.queue:
			if ev.Kind == RawOverflow {
				m.logger.Warn("watch overflow, events may have been lost", "dir", w.dir)
				if m.onOverflow != nil {
					m.onOverflow(w.dir)
				}
				continue
			}
			select {
			case m.out <- ev:
			case <-w.stop:
				return
			}
		}
	}
}
