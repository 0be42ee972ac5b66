//go:build !darwin

package watcher

// NewFSEventsBackend reports ErrBackendUnsupported outside macOS.
func NewFSEventsBackend(_ BackendOptions) (Backend, error) {
	return nil, ErrBackendUnsupported
}
