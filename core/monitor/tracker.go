package monitor

import (
	"context"
	"sync"
	"time"
)

// DefaultStableAfter is how long the processed counter must hold still.
const DefaultStableAfter = 3 * time.Second

// ScanTracker infers that the initial scan has settled by watching a
// monotonically increasing counter stop advancing.
type ScanTracker struct {
	counter     func() int64
	stableAfter time.Duration
	poll        time.Duration
	now         func() time.Time

	mu         sync.Mutex
	last       int64
	lastChange time.Time
	started    bool
	stable     bool
	done       chan struct{}
}

// NewScanTracker creates a tracker over counter.
func NewScanTracker(counter func() int64, stableAfter time.Duration) *ScanTracker {
	if stableAfter <= 0 {
		stableAfter = DefaultStableAfter
	}
	poll := stableAfter / 6
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	return &ScanTracker{
		counter:     counter,
		stableAfter: stableAfter,
		poll:        poll,
		now:         time.Now,
		done:        make(chan struct{}),
	}
}

// Observe samples the counter once and reports whether it is stable.
func (t *ScanTracker) Observe() bool {
	value := t.counter()
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stable {
		return true
	}
	if !t.started || value != t.last {
		t.started = true
		t.last = value
		t.lastChange = now
		return false
	}
	if now.Sub(t.lastChange) >= t.stableAfter {
		t.stable = true
		close(t.done)
	}
	return t.stable
}

// Run polls until the counter is stable or ctx ends.
func (t *ScanTracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		if t.Observe() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stable reports whether the counter has settled.
func (t *ScanTracker) Stable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stable
}

// Done is closed once the counter has settled.
func (t *ScanTracker) Done() <-chan struct{} {
	return t.done
}
