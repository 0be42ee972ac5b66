// Package configcache holds the last good remote configuration snapshot,
// the watch and blacklist directory sets derived from it, and a TTL cache of
// OS-bundle extensions with a built-in fallback.
package configcache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	scouterrors "github.com/adalundhe/scout/core/errors"
	"github.com/adalundhe/scout/core/model"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// Constants
// =============================================================================

// DefaultBundleTTL is how long a fetched bundle list is trusted.
const DefaultBundleTTL = time.Hour

// DefaultBundleRetry is how long a failed bundle refresh is remembered
// before the service is asked again.
const DefaultBundleRetry = time.Minute

const (
	flightConfig  = "config"
	flightBundles = "bundles"
)

// FallbackBundleExtensions is used whenever the service cannot supply a list.
var FallbackBundleExtensions = []string{
	".app", ".bundle", ".framework", ".fcpbundle",
	".photoslibrary", ".imovielibrary", ".tvlibrary", ".theater",
}

// =============================================================================
// Source
// =============================================================================

// Source fetches configuration from the screening service.
type Source interface {
	FetchConfig(ctx context.Context) (*model.Configuration, error)
	FetchBundleExtensions(ctx context.Context) ([]string, error)
}

// ChangeFunc is called after a new snapshot is installed. old is nil on the
// first successful fetch.
type ChangeFunc func(old, current *model.Configuration)

// =============================================================================
// Cache
// =============================================================================

// Options configures a Cache.
type Options struct {
	BundleTTL   time.Duration
	BundleRetry time.Duration
	Logger      *slog.Logger

	// Now overrides the clock for TTL checks.
	Now func() time.Time
}

// Cache is safe for concurrent use. Readers get whole snapshots; a refresh
// replaces the snapshot with one pointer swap.
type Cache struct {
	source Source
	logger *slog.Logger
	now    func() time.Time

	snapshot atomic.Pointer[model.Configuration]
	flights  singleflight.Group

	watchMu  sync.RWMutex
	watchSet []string

	blackMu   sync.RWMutex
	blacklist []string

	bundleMu        sync.Mutex
	bundles         []string
	bundlesAt       time.Time
	bundleTTL       time.Duration
	bundleRetry     time.Duration
	bundleRetryAt   time.Time
	bundleRefreshes atomic.Int64

	subsMu      sync.RWMutex
	subscribers []ChangeFunc
}

// New creates an empty Cache backed by source.
func New(source Source, opts Options) *Cache {
	if opts.BundleTTL <= 0 {
		opts.BundleTTL = DefaultBundleTTL
	}
	if opts.BundleRetry <= 0 {
		opts.BundleRetry = DefaultBundleRetry
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Cache{
		source:      source,
		logger:      opts.Logger,
		now:         opts.Now,
		bundleTTL:   opts.BundleTTL,
		bundleRetry: opts.BundleRetry,
	}
}

// OnChange registers fn to run after every successful fetch.
func (c *Cache) OnChange(fn ChangeFunc) {
	c.subsMu.Lock()
	c.subscribers = append(c.subscribers, fn)
	c.subsMu.Unlock()
}

// Get returns the last good snapshot, or nil before the first success.
func (c *Cache) Get() *model.Configuration {
	return c.snapshot.Load()
}

// Ready reports whether a snapshot has been installed.
func (c *Cache) Ready() bool {
	return c.Get() != nil
}

// Fetch pulls a fresh snapshot and installs it. Concurrent callers share one
// request. On failure the previous snapshot stays in place.
func (c *Cache) Fetch(ctx context.Context) (*model.Configuration, error) {
	v, err, _ := c.flights.Do(flightConfig, func() (any, error) {
		cfg, err := c.source.FetchConfig(ctx)
		if err != nil {
			return nil, err
		}
		c.install(cfg)
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Configuration), nil
}

// WaitReady retries Fetch every interval up to attempts times. Exhausting
// the budget returns a ConfigUnavailable error.
func (c *Cache) WaitReady(ctx context.Context, attempts int, interval time.Duration) (*model.Configuration, error) {
	var cfg *model.Configuration

	err := scouterrors.RetryFixed(ctx, attempts, interval, func(ctx context.Context, attempt int) error {
		fetched, err := c.Fetch(ctx)
		if err != nil {
			c.logger.Warn("configuration fetch failed",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", attempts),
				slog.String("error", err.Error()))
			return err
		}
		cfg = fetched
		return nil
	})
	if err != nil {
		return nil, scouterrors.Wrap(scouterrors.KindConfigUnavailable, "fetch configuration", err)
	}

	c.logger.Info("configuration loaded",
		slog.Int("watch_dirs", len(cfg.WatchSet())),
		slog.Int("blacklist_dirs", len(cfg.Blacklist())),
		slog.Int("rules", len(cfg.FilterRules)),
		slog.Bool("full_disk_access", cfg.FullDiskAccess))
	return cfg, nil
}

// RunRefresh re-fetches every interval until ctx ends. Failures keep the
// last good snapshot.
func (c *Cache) RunRefresh(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Fetch(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("configuration refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// install swaps in cfg, re-derives the directory sets and notifies
// subscribers.
func (c *Cache) install(cfg *model.Configuration) {
	old := c.snapshot.Swap(cfg)

	c.replaceWatchSet(cfg.WatchSet())
	c.replaceBlacklist(cfg.Blacklist())

	if len(cfg.BundleExtensions) > 0 {
		c.storeBundles(cfg.BundleExtensions)
	}

	c.notify(old, cfg)
}

func (c *Cache) notify(old, current *model.Configuration) {
	c.subsMu.RLock()
	subs := c.subscribers
	c.subsMu.RUnlock()

	for _, fn := range subs {
		fn(old, current)
	}
}

// =============================================================================
// Directory sets
// =============================================================================

func (c *Cache) replaceWatchSet(dirs []string) {
	c.watchMu.Lock()
	c.watchSet = dirs
	c.watchMu.Unlock()
}

func (c *Cache) replaceBlacklist(dirs []string) {
	c.blackMu.Lock()
	c.blacklist = dirs
	c.blackMu.Unlock()
}

// WatchSet returns a copy of the directories that should be watched.
func (c *Cache) WatchSet() []string {
	c.watchMu.RLock()
	defer c.watchMu.RUnlock()
	return append([]string(nil), c.watchSet...)
}

// Blacklist returns a copy of the blacklisted directory prefixes.
func (c *Cache) Blacklist() []string {
	c.blackMu.RLock()
	defer c.blackMu.RUnlock()
	return append([]string(nil), c.blacklist...)
}
