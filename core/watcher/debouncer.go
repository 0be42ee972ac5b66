package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultTick is the flush interval for live events.
	DefaultTick = time.Second

	// DefaultDirectoryAddTick is the flush interval used right after a
	// directory is added and its tree is still settling.
	DefaultDirectoryAddTick = 2 * time.Second

	// MaxTick caps configurable tick intervals.
	MaxTick = 2 * time.Second
)

// =============================================================================
// Debouncer
// =============================================================================

// DebouncerOptions configures a Debouncer.
type DebouncerOptions struct {
	// Tick is the flush interval. Values above MaxTick are clamped.
	Tick time.Duration

	// Exists resolves modify-like kinds. Defaults to PathExists.
	Exists ExistsFunc

	// OutputSize is the capacity of the output channel.
	OutputSize int

	Logger *slog.Logger
	Now    func() time.Time
}

// Debouncer coalesces raw events per path. Between ticks only the latest
// normalized kind for a path is kept.
type Debouncer struct {
	tick   time.Duration
	exists ExistsFunc
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]*DebounceRecord

	out chan Event
}

// NewDebouncer creates a debouncer. Call Run to start the tick loop.
func NewDebouncer(opts DebouncerOptions) *Debouncer {
	tick := opts.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	if tick > MaxTick {
		tick = MaxTick
	}
	exists := opts.Exists
	if exists == nil {
		exists = PathExists
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	size := opts.OutputSize
	if size <= 0 {
		size = 256
	}

	return &Debouncer{
		tick:    tick,
		exists:  exists,
		logger:  logger,
		now:     now,
		pending: make(map[string]*DebounceRecord),
		out:     make(chan Event, size),
	}
}

// Events returns the channel flushed events are sent on. It is closed when
// Run returns.
func (d *Debouncer) Events() <-chan Event {
	return d.out
}

// Tick returns the configured flush interval.
func (d *Debouncer) Tick() time.Duration {
	return d.tick
}

// Ingest records one raw event for path.
func (d *Debouncer) Ingest(path string, kind RawKind) {
	if kind == RawOverflow {
		return
	}
	normalized := Normalize(kind, path, d.exists)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.pending[path]
	if !ok {
		d.pending[path] = &DebounceRecord{
			Path:      path,
			LastKind:  normalized,
			FirstSeen: now,
			LastSeen:  now,
			Count:     1,
		}
		return
	}
	rec.LastKind = normalized
	rec.LastSeen = now
	rec.Count++
}

// Flush atomically takes every buffered record, ordered by first arrival.
func (d *Debouncer) Flush() []DebounceRecord {
	d.mu.Lock()
	taken := d.pending
	d.pending = make(map[string]*DebounceRecord, len(taken))
	d.mu.Unlock()

	if len(taken) == 0 {
		return nil
	}

	records := make([]DebounceRecord, 0, len(taken))
	for _, rec := range taken {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].FirstSeen.Equal(records[j].FirstSeen) {
			return records[i].Path < records[j].Path
		}
		return records[i].FirstSeen.Before(records[j].FirstSeen)
	})
	return records
}

// DropPrefix discards buffered records at or under dir and returns how many
// were dropped.
func (d *Debouncer) DropPrefix(dir string) int {
	dir = filepath.Clean(dir)
	prefix := dir + string(filepath.Separator)

	d.mu.Lock()
	defer d.mu.Unlock()

	dropped := 0
	for path := range d.pending {
		if path == dir || strings.HasPrefix(path, prefix) {
			delete(d.pending, path)
			dropped++
		}
	}
	return dropped
}

// Pending returns the number of buffered paths.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// =============================================================================
// Run Loop
// =============================================================================

// Run ingests from in and flushes on every tick until ctx is done or in is
// closed. A closed input gets one final flush. The output channel is closed
// on return.
func (d *Debouncer) Run(ctx context.Context, in <-chan RawEvent) error {
	defer close(d.out)

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return d.forward(ctx, d.Flush())
			}
			d.Ingest(ev.Path, ev.Kind)
		case <-ticker.C:
			if err := d.forward(ctx, d.Flush()); err != nil {
				return err
			}
		}
	}
}

// forward sends flushed records downstream, blocking while the consumer is
// busy.
func (d *Debouncer) forward(ctx context.Context, records []DebounceRecord) error {
	if len(records) == 0 {
		return nil
	}
	d.logger.Debug("debounce flush", "records", len(records))

	for _, rec := range records {
		select {
		case d.out <- Event{Path: rec.Path, Kind: rec.LastKind}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
