// Package errors implements the agent's error taxonomy and bounded retry helpers.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the pipeline reacts to it.
type Kind int

const (
	// KindConfigUnavailable means the remote configuration could not be fetched.
	// Fatal at startup once the retry budget is spent.
	KindConfigUnavailable Kind = iota

	// KindWatchSetupFailed means a single directory watch could not be started.
	// Siblings keep running.
	KindWatchSetupFailed

	// KindClassificationRejected is an expected outcome routed to stats.
	KindClassificationRejected

	// KindDeliveryFailed means a batch flush failed. The batch is dropped.
	KindDeliveryFailed

	// KindCleanupFailed means the remote clean-by-path call failed after retries.
	KindCleanupFailed
)

var kindNames = map[Kind]string{
	KindConfigUnavailable:      "config_unavailable",
	KindWatchSetupFailed:       "watch_setup_failed",
	KindClassificationRejected: "classification_rejected",
	KindDeliveryFailed:         "delivery_failed",
	KindCleanupFailed:          "cleanup_failed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Fatal reports whether errors of this kind abort the whole pipeline.
func (k Kind) Fatal() bool {
	return k == KindConfigUnavailable
}

// Error wraps an underlying error with a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New creates an Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath attaches the affected path.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// Wrap classifies err under kind. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(kind, op, err)
}

// KindOf extracts the Kind of err. The second result is false for
// errors outside the taxonomy.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsFatal reports whether err should stop the pipeline.
func IsFatal(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind.Fatal()
}

// Sentinels for errors.Is comparisons.
var (
	ErrConfigUnavailable      = New(KindConfigUnavailable, "configuration unavailable", nil)
	ErrWatchSetupFailed       = New(KindWatchSetupFailed, "watch setup failed", nil)
	ErrClassificationRejected = New(KindClassificationRejected, "classification rejected", nil)
	ErrDeliveryFailed         = New(KindDeliveryFailed, "delivery failed", nil)
	ErrCleanupFailed          = New(KindCleanupFailed, "cleanup failed", nil)
)
