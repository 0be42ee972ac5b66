//go:build darwin

package watcher

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsevents"
)

// FSEventsBackend watches directory trees with macOS FSEvents. FSEvents
// streams are recursive, so one stream covers a whole root.
type FSEventsBackend struct {
	latency time.Duration
}

// NewFSEventsBackend creates an FSEvents backend.
func NewFSEventsBackend(_ BackendOptions) (Backend, error) {
	return &FSEventsBackend{}, nil
}

// Name returns "fsevents".
func (b *FSEventsBackend) Name() string { return BackendFSEvents }

// Watch opens an event stream rooted at root.
func (b *FSEventsBackend) Watch(root string, sink chan<- RawEvent) (Handle, error) {
	if err := validateRoot(root); err != nil {
		return nil, err
	}

	stream := &fsevents.EventStream{
		Paths:   []string{root},
		Latency: b.latency,
		Flags:   fsevents.FileEvents | fsevents.WatchRoot | fsevents.NoDefer,
	}
	stream.Start()

	h := &fseventsHandle{
		root:   root,
		stream: stream,
		sink:   sink,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go h.processEvents()
	return h, nil
}

type fseventsHandle struct {
	root   string
	stream *fsevents.EventStream
	sink   chan<- RawEvent

	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

// Close stops the stream and waits for the forwarding loop to exit.
func (h *fseventsHandle) Close() error {
	h.stopOnce.Do(func() {
		close(h.done)
		<-h.exited
		h.stream.Stop()
	})
	return nil
}

func (h *fseventsHandle) processEvents() {
	defer close(h.exited)

	for {
		select {
		case <-h.done:
			return
		case batch, ok := <-h.stream.Events:
			if !ok {
				return
			}
			for _, ev := range batch {
				if !h.handleFSEvent(ev) {
					return
				}
			}
		}
	}
}

const droppedFlags = fsevents.MustScanSubDirs | fsevents.KernelDropped | fsevents.UserDropped

func (h *fseventsHandle) handleFSEvent(ev fsevents.Event) bool {
	if ev.Flags&droppedFlags != 0 {
		return h.emit(h.root, RawOverflow)
	}
	if ev.Flags&(fsevents.Mount|fsevents.Unmount|fsevents.RootChanged) != 0 {
		return true
	}

	path := ev.Path
	if !filepath.IsAbs(path) {
		path = "/" + strings.TrimPrefix(path, "/")
	}
	return h.emit(path, mapFSEventFlags(ev.Flags, path))
}

// mapFSEventFlags collapses a coalesced flag set into one raw kind. A bare
// ItemRenamed marks either side of a rename, so the path is checked to tell
// them apart. Created and removed together carry no order, so the kind is
// left to the existence check.
func mapFSEventFlags(flags fsevents.EventFlags, path string) RawKind {
	switch {
	case flags&fsevents.ItemCreated != 0 && flags&fsevents.ItemRemoved != 0:
		return RawOther
	case flags&fsevents.ItemRemoved != 0:
		return RawRemove
	case flags&fsevents.ItemRenamed != 0:
		if flags&fsevents.ItemCreated != 0 {
			return RawRenameTo
		}
		if PathExists(path) {
			return RawRenameTo
		}
		return RawRenameFrom
	case flags&fsevents.ItemCreated != 0:
		return RawCreate
	case flags&(fsevents.ItemModified|fsevents.ItemInodeMetaMod|fsevents.ItemChangeOwner|fsevents.ItemXattrMod) != 0:
		return RawModify
	default:
		return RawOther
	}
}

func (h *fseventsHandle) emit(path string, kind RawKind) bool {
	ev := RawEvent{Path: path, Kind: kind, Root: h.root, Time: time.Now()}
	select {
	case h.sink <- ev:
		return true
	case <-h.done:
		return false
	}
}
