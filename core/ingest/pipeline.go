// Package ingest buffers classified records and delivers them to the
// screening service in batches. Delivery is at most once: a failed batch is
// logged and discarded.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	scouterrors "github.com/adalundhe/scout/core/errors"
	"github.com/adalundhe/scout/core/model"
	"github.com/adalundhe/scout/core/remote"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultBatchSize is the record count that triggers a flush.
	DefaultBatchSize = 50

	// DefaultBatchInterval is the maximum age of a buffered batch.
	DefaultBatchInterval = 5 * time.Second

	// DefaultQueueSize is the capacity of the submit channel.
	DefaultQueueSize = 100

	minTick = 10 * time.Millisecond
)

// ErrPipelineClosed is returned by Submit after Close.
var ErrPipelineClosed = errors.New("ingest pipeline closed")

// =============================================================================
// Pipeline
// =============================================================================

// Sink receives flushed batches. *remote.Client satisfies it.
type Sink interface {
	SendBatch(ctx context.Context, batch []*model.FileMetadata, autoCreateTasks bool) (*remote.BatchResponse, error)
}

// Options configures a Pipeline. Zero values get defaults.
type Options struct {
	Sink            Sink
	Size            int
	Interval        time.Duration
	QueueSize       int
	AutoCreateTasks bool

	// Snapshot returns the configuration used for the extension check.
	Snapshot func() *model.Configuration

	// Bundles returns the current bundle suffix list.
	Bundles func(ctx context.Context) []string

	// OnFlush is called after every flush attempt.
	OnFlush func(n int, err error)

	Logger *slog.Logger
	Now    func() time.Time
}

// Pipeline buffers records submitted from any goroutine; Run owns the
// buffer.
type Pipeline struct {
	sink       Sink
	size       int
	interval   time.Duration
	autoCreate bool
	snapshot   func() *model.Configuration
	bundles    func(context.Context) []string
	onFlush    func(int, error)
	logger     *slog.Logger
	now        func() time.Time

	in        chan *model.FileMetadata
	closeOnce sync.Once
	closed    chan struct{}

	// submitMu orders Submit against the final drain: once shut is set
	// under the write lock, nothing more reaches in.
	submitMu sync.RWMutex
	shut     bool

	buf       []*model.FileMetadata
	lastFlush time.Time
	buffered  atomic.Int64
	stats     BatchStats
}

// New creates a pipeline. Call Run to start delivery.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		sink:       opts.Sink,
		size:       opts.Size,
		interval:   opts.Interval,
		autoCreate: opts.AutoCreateTasks,
		snapshot:   opts.Snapshot,
		bundles:    opts.Bundles,
		onFlush:    opts.OnFlush,
		logger:     opts.Logger,
		now:        opts.Now,
		closed:     make(chan struct{}),
	}
	if p.size <= 0 {
		p.size = DefaultBatchSize
	}
	if p.interval <= 0 {
		p.interval = DefaultBatchInterval
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	queue := opts.QueueSize
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	p.in = make(chan *model.FileMetadata, queue)
	p.buf = make([]*model.FileMetadata, 0, p.size)
	return p
}

// Submit hands a record to the pipeline, blocking while the queue is full.
func (p *Pipeline) Submit(ctx context.Context, m *model.FileMetadata) error {
	if m == nil {
		return nil
	}

	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.shut {
		return ErrPipelineClosed
	}
	select {
	case <-p.closed:
		return ErrPipelineClosed
	default:
	}

	select {
	case p.in <- m:
		p.stats.submitted.Add(1)
		return nil
	case <-p.closed:
		return ErrPipelineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting records. Run drains the queue, flushes what is
// left and returns.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() BatchStatsSnapshot {
	return p.stats.snapshot(int(p.buffered.Load()))
}

// Counters exposes the live counters.
func (p *Pipeline) Counters() *BatchStats {
	return &p.stats
}

// =============================================================================
// Run Loop
// =============================================================================

// Run buffers incoming records and flushes when the batch is full or has
// aged past the interval. After Close the remainder is flushed once.
// Cancelling ctx discards the buffer.
func (p *Pipeline) Run(ctx context.Context) error {
	tick := p.interval / 4
	if tick < minTick {
		tick = minTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	p.lastFlush = p.now()

	for {
		select {
		case <-ctx.Done():
			p.stopAccepting()
			if n := len(p.buf); n > 0 {
				p.logger.Warn("ingest pipeline cancelled with buffered records", "records", n)
			}
			return ctx.Err()
		case <-p.closed:
			p.stopAccepting()
			p.drain(ctx)
			p.flush(ctx)
			return nil
		case m := <-p.in:
			p.add(ctx, m)
		case <-ticker.C:
			if len(p.buf) > 0 && p.now().Sub(p.lastFlush) >= p.interval {
				p.flush(ctx)
			}
		}
	}
}

// stopAccepting waits out in-flight Submits and refuses later ones.
func (p *Pipeline) stopAccepting() {
	p.submitMu.Lock()
	p.shut = true
	p.submitMu.Unlock()
}

// drain buffers whatever is still queued without blocking.
func (p *Pipeline) drain(ctx context.Context) {
	for {
		select {
		case m := <-p.in:
			p.add(ctx, m)
		default:
			return
		}
	}
}

func (p *Pipeline) add(ctx context.Context, m *model.FileMetadata) {
	var snap *model.Configuration
	if p.snapshot != nil {
		snap = p.snapshot()
	}
	var bundles []string
	if p.bundles != nil {
		bundles = p.bundles(ctx)
	}

	if reason, ok := Admit(m, snap, bundles); !ok {
		p.stats.recordDrop(reason)
		p.logger.Debug("record dropped before batching", "path", m.FilePath, "reason", reason.String())
		return
	}

	p.buf = append(p.buf, m)
	p.buffered.Store(int64(len(p.buf)))
	if len(p.buf) >= p.size {
		p.flush(ctx)
	}
}

// flush delivers the buffer. The buffer is released before the call so a
// failed batch is never retried.
func (p *Pipeline) flush(ctx context.Context) {
	p.lastFlush = p.now()
	if len(p.buf) == 0 {
		return
	}

	batch := p.buf
	p.buf = make([]*model.FileMetadata, 0, p.size)
	p.buffered.Store(0)

	start := time.Now()
	_, err := p.sink.SendBatch(ctx, batch, p.autoCreate)
	if err != nil {
		err = scouterrors.Wrap(scouterrors.KindDeliveryFailed, "ingest.flush", err)
		p.stats.batchesFailed.Add(1)
		p.stats.discarded.Add(int64(len(batch)))
		p.logger.Error("batch delivery failed, batch discarded",
			"records", len(batch), "error", err)
	} else {
		p.stats.batchesSent.Add(1)
		p.stats.delivered.Add(int64(len(batch)))
		p.logger.Info("batch delivered",
			"records", len(batch), "duration", time.Since(start))
	}

	if p.onFlush != nil {
		p.onFlush(len(batch), err)
	}
}
