// Package watcher turns native file-system notifications into a debounced
// stream of Added/Removed events. It owns one recursive watch per directory,
// bridges each watch's native callbacks through a bounded queue, and
// coalesces bursts per path on a fixed tick.
package watcher

import (
	"os"
	"time"
)

// =============================================================================
// RawKind
// =============================================================================

// RawKind is the event kind as reported by the native backend.
type RawKind int

const (
	RawCreate RawKind = iota
	RawRemove
	RawRenameFrom
	RawRenameTo
	RawRenameBoth
	RawModify
	RawOther

	// RawOverflow means the backend dropped events under the watch root.
	// It never reaches the debouncer.
	RawOverflow
)

var rawKindNames = map[RawKind]string{
	RawCreate:     "create",
	RawRemove:     "remove",
	RawRenameFrom: "rename_from",
	RawRenameTo:   "rename_to",
	RawRenameBoth: "rename_both",
	RawModify:     "modify",
	RawOther:      "other",
	RawOverflow:   "overflow",
}

// String returns a human-readable name for the raw kind.
func (k RawKind) String() string {
	if name, ok := rawKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// RawEvent is one native notification.
type RawEvent struct {
	// Path is the absolute path the event refers to.
	Path string

	// Kind is the native event kind.
	Kind RawKind

	// Root is the watched directory that produced the event.
	Root string

	// Time is when the backend observed the event.
	Time time.Time
}

// =============================================================================
// Kind
// =============================================================================

// Kind is the normalized event kind forwarded to classification.
type Kind int

const (
	Added Kind = iota
	Removed
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a debounced, normalized event.
type Event struct {
	Path string
	Kind Kind
}

// DebounceRecord tracks one path inside the current debounce window.
type DebounceRecord struct {
	Path      string
	LastKind  Kind
	FirstSeen time.Time
	LastSeen  time.Time
	Count     int
}

// =============================================================================
// Normalization
// =============================================================================

// ExistsFunc reports whether a path currently exists.
type ExistsFunc func(path string) bool

// PathExists is the default ExistsFunc.
func PathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Normalize maps a raw kind onto Added or Removed. Kinds without a fixed
// meaning are resolved by checking whether path still exists.
func Normalize(kind RawKind, path string, exists ExistsFunc) Kind {
	switch kind {
	case RawCreate, RawRenameTo, RawRenameBoth:
		return Added
	case RawRemove, RawRenameFrom:
		return Removed
	}

	if exists == nil {
		exists = PathExists
	}
	if exists(path) {
		return Added
	}
	return Removed
}
