// Package monitor wires the agent together: configuration cache, watch
// manager, debouncer, classifier, ingestion pipeline and initial scan.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adalundhe/scout/core/classify"
	"github.com/adalundhe/scout/core/config"
	"github.com/adalundhe/scout/core/configcache"
	scouterrors "github.com/adalundhe/scout/core/errors"
	"github.com/adalundhe/scout/core/events"
	"github.com/adalundhe/scout/core/ingest"
	"github.com/adalundhe/scout/core/metrics"
	"github.com/adalundhe/scout/core/model"
	"github.com/adalundhe/scout/core/scan"
	"github.com/adalundhe/scout/core/watcher"
)

// Remote is everything the agent needs from the screening service.
// *remote.Client satisfies it.
type Remote interface {
	configcache.Source
	ingest.Sink
	Cleaner
	NotifyAnalysis(ctx context.Context) error
}

// Options configures an Agent.
type Options struct {
	Config *config.Config
	Remote Remote

	// Backend overrides the watch backend chosen by Config.Watch.Backend.
	Backend watcher.Backend

	// Emitter receives notifications after throttling. Defaults to a
	// LogEmitter.
	Emitter events.Emitter

	Logger *slog.Logger
}

// Agent runs the monitoring pipeline.
type Agent struct {
	cfg    *config.Config
	remote Remote
	logger *slog.Logger

	cache     *configcache.Cache
	engine    *classify.Engine
	manager   *watcher.Manager
	debouncer *watcher.Debouncer
	pipeline  *ingest.Pipeline
	driver    *scan.Driver
	stats     *model.MonitorStats
	tracker   *ScanTracker
	metrics   *metrics.Metrics

	emitter   *events.Throttler
	hub       *events.Hub
	listeners *events.Multi

	cleanupPolicy *scouterrors.RetryPolicy

	pendingMu sync.Mutex
	pending   []configChange
	changed   chan struct{}

	rescans chan string
}

type configChange struct {
	old, current *model.Configuration
}

// New builds an agent. Nothing runs until Run.
func New(opts Options) (*Agent, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Remote == nil {
		return nil, errors.New("monitor: remote is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config

	a := &Agent{
		cfg:     cfg,
		remote:  opts.Remote,
		logger:  logger,
		stats:   &model.MonitorStats{},
		changed: make(chan struct{}, 1),
		rescans: make(chan string, 64),
		cleanupPolicy: CleanupPolicy(cfg.Cleanup),
	}

	a.listeners = events.NewMulti(opts.Emitter)
	if opts.Emitter == nil {
		a.listeners.Add(events.LogEmitter{Logger: logger})
	}
	if cfg.Events.Addr != "" {
		a.hub = events.NewHub(logger)
		a.listeners.Add(a.hub)
	}
	a.emitter = events.NewThrottler(a.listeners, events.ThrottlerOptions{})

	a.cache = configcache.New(opts.Remote, configcache.Options{
		BundleTTL: cfg.Bundles.TTL,
		Logger:    logger.With("component", "configcache"),
	})
	a.cache.OnChange(a.queueChange)

	ignore, err := classify.CompileIgnoreSet(cfg.Classify.IgnoreGlobs)
	if err != nil {
		return nil, err
	}
	a.engine, err = classify.New(classify.Options{
		Bundles: a.cache,
		Hasher:  classify.PrefixHasher{Limit: cfg.Classify.HashPrefixBytes},
		Ignore:  ignore,
		Logger:  logger.With("component", "classify"),
	})
	if err != nil {
		return nil, err
	}

	backend := opts.Backend
	if backend == nil {
		backend, err = watcher.NewBackend(cfg.Watch.Backend, watcher.BackendOptions{SkipDir: a.skipDir})
		if err != nil {
			a.engine.Close()
			return nil, err
		}
	}

	a.debouncer = watcher.NewDebouncer(watcher.DebouncerOptions{
		Tick:   cfg.Debounce.Tick,
		Logger: logger.With("component", "debounce"),
	})
	a.manager = watcher.NewManager(watcher.ManagerOptions{
		Backend:    backend,
		QueueSize:  cfg.Watch.QueueSize,
		OnError:    a.watchFailed,
		OnOverflow: a.requestRescan,
		OnStop:     func(dir string) { a.debouncer.DropPrefix(dir) },
		Logger:     logger.With("component", "watch"),
	})

	a.pipeline = ingest.New(ingest.Options{
		Sink:            opts.Remote,
		Size:            cfg.Batch.Size,
		Interval:        cfg.Batch.Interval,
		QueueSize:       cfg.Batch.QueueSize,
		AutoCreateTasks: cfg.Batch.AutoCreateTasks,
		Snapshot:        a.cache.Get,
		Bundles:         a.cache.BundleExtensions,
		OnFlush:         a.flushed,
		Logger:          logger.With("component", "ingest"),
	})

	a.driver = scan.NewDriver(a.engine, a.stats, logger.With("component", "scan"))
	a.tracker = NewScanTracker(a.stats.Processed, cfg.Scan.StableAfter)

	a.metrics = metrics.New(metrics.Sources{
		Monitor:         a.stats,
		Batches:         a.pipeline.Counters(),
		Watched:         func() int { return len(a.manager.Watched()) },
		DebouncePending: a.debouncer.Pending,
		BundleRefreshes: a.cache.BundleRefreshes,
	})

	return a, nil
}

// Stats returns the classification counters.
func (a *Agent) Stats() *model.MonitorStats { return a.stats }

// BatchStats returns a snapshot of the pipeline counters.
func (a *Agent) BatchStats() ingest.BatchStatsSnapshot { return a.pipeline.Stats() }

// Cache returns the configuration cache.
func (a *Agent) Cache() *configcache.Cache { return a.cache }

// Watched returns the directories with a live watch.
func (a *Agent) Watched() []string { return a.manager.Watched() }

// Tracker returns the scan stability tracker.
func (a *Agent) Tracker() *ScanTracker { return a.tracker }

// =============================================================================
// Run
// =============================================================================

// Run starts monitoring and blocks until ctx ends. Only failing to obtain
// a configuration at startup is fatal.
func (a *Agent) Run(ctx context.Context) error {
	defer a.engine.Close()
	if a.hub != nil {
		defer a.hub.Close()
	}

	snap, err := a.cache.WaitReady(ctx, a.cfg.Startup.FetchAttempts, a.cfg.Startup.FetchInterval)
	if err != nil {
		a.emitter.Emit(events.MonitorError, events.ErrorPayload{
			Kind:    scouterrors.KindConfigUnavailable.String(),
			Message: err.Error(),
		})
		a.emitter.FlushAll()
		return err
	}

	// The delivery stages stop when their inputs close, not on ctx, so
	// buffered records are flushed on shutdown.
	drain := context.WithoutCancel(ctx)
	var stages errgroup.Group
	stages.Go(func() error { return a.pipeline.Run(drain) })
	stages.Go(func() error { return a.debouncer.Run(drain, a.manager.Events()) })
	stages.Go(func() error {
		defer a.pipeline.Close()
		return a.classifyLoop(drain)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(a.emitter.Run(gctx)) })

	started, _ := a.manager.Sync(gctx, snap.WatchSet())
	a.logger.Info("file monitor started", "directories", len(started), "backend", a.cfg.Watch.Backend)
	a.emitter.Emit(events.MonitorStarted, map[string]any{"directories": a.manager.Watched()})

	g.Go(func() error { return a.initialScan(gctx, snap) })
	g.Go(func() error { return ignoreCanceled(a.tracker.Run(gctx)) })
	g.Go(func() error { return a.changeLoop(gctx) })
	g.Go(func() error { return a.rescanLoop(gctx) })
	g.Go(func() error { return a.cache.RunRefresh(gctx, a.cfg.Refresh.Interval) })

	if addr := a.cfg.Metrics.Addr; addr != "" {
		g.Go(func() error { return serve(gctx, addr, a.metrics.Handler(), a.logger) })
	}
	if addr := a.cfg.Events.Addr; addr != "" && a.hub != nil {
		g.Go(func() error { return serve(gctx, addr, a.hub.Handler(), a.logger) })
	}

	runErr := g.Wait()

	a.manager.Close()
	if err := stages.Wait(); err != nil {
		a.logger.Warn("delivery stage stopped with error", "error", err)
	}
	a.emitter.FlushAll()

	a.logger.Info("file monitor stopped",
		"processed", a.stats.Processed(),
		"delivered", a.pipeline.Stats().Delivered)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// =============================================================================
// Classification
// =============================================================================

// classifyLoop turns debounced events into records until the debouncer
// closes its output.
func (a *Agent) classifyLoop(ctx context.Context) error {
	for ev := range a.debouncer.Events() {
		if ev.Kind == watcher.Removed {
			a.logger.Debug("path removed", "path", ev.Path)
			continue
		}
		a.classifyPath(ctx, ev.Path)
	}
	return nil
}

func (a *Agent) classifyPath(ctx context.Context, path string) {
	snap := a.cache.Get()
	if snap == nil {
		return
	}

	m, err := a.engine.Classify(ctx, path, snap)
	if err != nil {
		reason, ok := classify.ReasonOf(err)
		if !ok {
			reason = model.RejectStatFailed
			a.logger.Warn("classification failed", "path", path, "error", err)
		}
		a.stats.RecordRejected(reason)
		return
	}

	a.stats.RecordAccepted()
	if err := a.pipeline.Submit(ctx, m); err != nil {
		a.logger.Warn("record not submitted", "path", path, "error", err)
		return
	}
	a.emitter.Emit(events.FileProcessed, a.stats.Snapshot())
}

// =============================================================================
// Initial scan
// =============================================================================

func (a *Agent) initialScan(ctx context.Context, snap *model.Configuration) error {
	dirs := snap.WatchSet()
	a.emitter.Emit(events.ScanStarted, map[string]any{"directories": dirs})

	res, err := a.driver.Scan(ctx, dirs, snap, a.pipeline.Submit)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		a.emitter.Emit(events.ErrorOccurred, events.ErrorPayload{Kind: "scan", Message: err.Error()})
		a.logger.Error("initial scan failed", "error", err)
		return nil
	}
	a.emitter.Emit(events.ScanCompleted, res)

	if !a.cfg.Scan.NotifyAnalysis || res.Submitted == 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case <-a.tracker.Done():
	}
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(a.cfg.Scan.AnalysisDelay):
	}
	if err := a.remote.NotifyAnalysis(ctx); err != nil && ctx.Err() == nil {
		a.logger.Warn("analysis notification failed", "error", err)
	}
	return nil
}

// requestRescan schedules dir to be walked again. Requests made while one
// is pending are merged.
func (a *Agent) requestRescan(dir string) {
	select {
	case a.rescans <- dir:
	default:
		a.logger.Warn("rescan queue full, request dropped", "dir", dir)
	}
}

// rescanLoop walks directories that were added at runtime or reported
// overflow, after waiting for their trees to settle.
func (a *Agent) rescanLoop(ctx context.Context) error {
	settle := a.cfg.Debounce.DirectoryAddTick
	if settle <= 0 {
		settle = watcher.DefaultDirectoryAddTick
	}

	pending := make(map[string]struct{})
	timer := time.NewTimer(settle)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case dir := <-a.rescans:
			if len(pending) == 0 {
				timer.Reset(settle)
			}
			pending[dir] = struct{}{}
		case <-timer.C:
			dirs := make([]string, 0, len(pending))
			for dir := range pending {
				if a.manager.IsWatched(dir) {
					dirs = append(dirs, dir)
				}
			}
			pending = make(map[string]struct{})
			if len(dirs) == 0 {
				continue
			}
			if _, err := a.driver.Scan(ctx, dirs, a.cache.Get(), a.pipeline.Submit); err != nil && ctx.Err() == nil {
				a.logger.Warn("rescan failed", "directories", dirs, "error", err)
			}
		}
	}
}

// =============================================================================
// Configuration changes
// =============================================================================

// queueChange runs inside the cache's install and must not block.
func (a *Agent) queueChange(old, current *model.Configuration) {
	if old == nil {
		return
	}
	a.pendingMu.Lock()
	a.pending = append(a.pending, configChange{old: old, current: current})
	a.pendingMu.Unlock()

	select {
	case a.changed <- struct{}{}:
	default:
	}
}

func (a *Agent) takeChanges() []configChange {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	out := a.pending
	a.pending = nil
	return out
}

// changeLoop applies queued configuration changes once the initial scan
// is stable.
func (a *Agent) changeLoop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-a.tracker.Done():
	}
	a.logger.Info("initial scan stable, applying configuration changes")

	for {
		for _, ch := range a.takeChanges() {
			a.applyChange(ctx, ch)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-a.changed:
		}
	}
}

func (a *Agent) applyChange(ctx context.Context, ch configChange) {
	started, stopped := a.manager.Sync(ctx, ch.current.WatchSet())
	for _, dir := range started {
		a.requestRescan(dir)
	}

	for _, dir := range CleanupTargets(ch.old, ch.current) {
		deleted, err := CleanPath(ctx, a.remote, dir, a.cleanupPolicy, a.logger)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("remote cleanup failed", "dir", dir, "error", err)
			continue
		}
		a.logger.Info("remote records cleaned", "dir", dir, "deleted", deleted)
	}

	if len(started) > 0 || len(stopped) > 0 {
		a.emitter.Emit(events.ConfigChanged, map[string]any{
			"started": started,
			"stopped": stopped,
			"watched": a.manager.Watched(),
		})
	}
}

// =============================================================================
// Hooks
// =============================================================================

func (a *Agent) watchFailed(dir string, err error) {
	a.emitter.Emit(events.MonitorError, events.ErrorPayload{
		Path:    dir,
		Kind:    scouterrors.KindWatchSetupFailed.String(),
		Message: err.Error(),
	})
}

func (a *Agent) flushed(n int, err error) {
	a.metrics.ObserveFlush(n, err)
	if err != nil {
		a.emitter.Emit(events.ErrorOccurred, events.ErrorPayload{
			Kind:    scouterrors.KindDeliveryFailed.String(),
			Message: fmt.Sprintf("%d records discarded: %v", n, err),
		})
		return
	}
	a.emitter.Emit(events.BatchDelivered, map[string]int{"records": n})
}

// skipDir prunes directories from native registration.
func (a *Agent) skipDir(path string) bool {
	if classify.IsHidden(path) {
		return true
	}
	return classify.IsBundlePath(path, true, a.cache.BundleExtensions(context.Background()))
}
