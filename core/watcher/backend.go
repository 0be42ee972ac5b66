package watcher

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrPathNotExist indicates a watch path does not exist.
	ErrPathNotExist = errors.New("watch path does not exist")

	// ErrPathNotDirectory indicates a watch path is not a directory.
	ErrPathNotDirectory = errors.New("watch path is not a directory")

	// ErrUnknownBackend indicates an unrecognized backend name.
	ErrUnknownBackend = errors.New("unknown watch backend")

	// ErrBackendUnsupported indicates the backend is not available on this OS.
	ErrBackendUnsupported = errors.New("watch backend not supported on this platform")
)

// Backend names accepted by NewBackend.
const (
	BackendAuto     = "auto"
	BackendFSNotify = "fsnotify"
	BackendFSEvents = "fsevents"
)

// =============================================================================
// Backend
// =============================================================================

// Backend starts native recursive watches.
//
// The goroutine that receives native callbacks only enqueues into sink and
// blocks while sink is full; it must stop blocking once the returned Handle
// is closed.
type Backend interface {
	Name() string
	Watch(root string, sink chan<- RawEvent) (Handle, error)
}

// Handle stops one native watch. Close is idempotent and returns once the
// native side has stopped sending.
type Handle interface {
	Close() error
}

// BackendOptions configures the built-in backends.
type BackendOptions struct {
	// SkipDir prunes directories from recursive registration. Only the
	// fsnotify backend registers directories one by one.
	SkipDir func(path string) bool
}

// NewBackend returns the backend registered under name. "auto" picks
// FSEvents on macOS and fsnotify elsewhere.
func NewBackend(name string, opts BackendOptions) (Backend, error) {
	switch strings.ToLower(name) {
	case "", BackendAuto:
		if runtime.GOOS == "darwin" {
			return NewFSEventsBackend(opts)
		}
		return NewFSNotifyBackend(opts), nil
	case BackendFSNotify:
		return NewFSNotifyBackend(opts), nil
	case BackendFSEvents:
		return NewFSEventsBackend(opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// validateRoot checks that root exists and is a directory.
func validateRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return ErrPathNotDirectory
	}
	return nil
}
