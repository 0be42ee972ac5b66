package configcache

import (
	"context"
	"log/slog"
	"time"

	"github.com/adalundhe/scout/core/model"
)

// BundleExtensions returns the cached bundle suffix list while it is fresh.
// Otherwise it refreshes from the service and, if that fails, returns
// FallbackBundleExtensions. A failed or empty refresh is not retried for
// BundleRetry; lookups in that window get the fallback without a request.
// The result is never empty and never an error.
func (c *Cache) BundleExtensions(ctx context.Context) []string {
	if cached, ok := c.freshBundles(); ok {
		return cached
	}
	if c.bundlesBackingOff() {
		return fallbackBundles()
	}

	v, err, _ := c.flights.Do(flightBundles, func() (any, error) {
		c.bundleRefreshes.Add(1)
		exts, err := c.source.FetchBundleExtensions(ctx)
		if err != nil {
			c.deferBundleRefresh()
			c.logger.Warn("bundle extension refresh failed, using built-in list",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", c.bundleRetry))
			return nil, err
		}
		stored := c.storeBundles(exts)
		if len(stored) == 0 {
			c.deferBundleRefresh()
			c.logger.Warn("service returned no bundle extensions, using built-in list",
				slog.Duration("retry_in", c.bundleRetry))
		}
		return stored, nil
	})
	if err != nil {
		return fallbackBundles()
	}

	exts := v.([]string)
	if len(exts) == 0 {
		return fallbackBundles()
	}
	return append([]string(nil), exts...)
}

// BundleRefreshes counts refresh attempts against the service.
func (c *Cache) BundleRefreshes() int64 {
	return c.bundleRefreshes.Load()
}

func (c *Cache) freshBundles() ([]string, bool) {
	c.bundleMu.Lock()
	defer c.bundleMu.Unlock()

	if len(c.bundles) == 0 || c.now().Sub(c.bundlesAt) >= c.bundleTTL {
		return nil, false
	}
	return append([]string(nil), c.bundles...), true
}

func (c *Cache) bundlesBackingOff() bool {
	c.bundleMu.Lock()
	defer c.bundleMu.Unlock()
	return c.now().Before(c.bundleRetryAt)
}

func (c *Cache) deferBundleRefresh() {
	c.bundleMu.Lock()
	c.bundleRetryAt = c.now().Add(c.bundleRetry)
	c.bundleMu.Unlock()
}

// storeBundles normalizes exts to lowercase dotted suffixes and caches them.
// An empty list is not cached.
func (c *Cache) storeBundles(exts []string) []string {
	normalized := normalizeBundles(exts)

	c.bundleMu.Lock()
	defer c.bundleMu.Unlock()

	if len(normalized) > 0 {
		c.bundles = normalized
		c.bundlesAt = c.now()
		c.bundleRetryAt = time.Time{}
	}
	return normalized
}

func normalizeBundles(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		n := model.NormalizeExtension(ext)
		if n == "" {
			continue
		}
		n = "." + n
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func fallbackBundles() []string {
	return append([]string(nil), FallbackBundleExtensions...)
}
