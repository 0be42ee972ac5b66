package classify

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	canonicalNumCounters = 1e5
	canonicalMaxCost     = 1e4
	canonicalBufferItems = 64
	canonicalTTL         = 5 * time.Minute
)

// Canonicalizer resolves symlinks and caches the results.
type Canonicalizer struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCanonicalizer builds a Canonicalizer with a bounded cache.
func NewCanonicalizer() (*Canonicalizer, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: canonicalNumCounters,
		MaxCost:     canonicalMaxCost,
		BufferItems: canonicalBufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Canonicalizer{cache: cache, ttl: canonicalTTL}, nil
}

// Canonical returns the absolute, symlink-resolved form of path. Paths that
// cannot be resolved fall back to their cleaned absolute form.
func (c *Canonicalizer) Canonical(path string) string {
	if v, ok := c.cache.Get(path); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}

	resolved := resolve(path)
	c.cache.SetWithTTL(path, resolved, 1, c.ttl)
	return resolved
}

// Close releases the cache.
func (c *Canonicalizer) Close() {
	c.cache.Close()
}

func resolve(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return resolveParent(abs)
}

// resolveParent canonicalizes the nearest existing ancestor so vanished
// leaves under a symlinked directory still compare correctly.
func resolveParent(abs string) string {
	dir, leaf := filepath.Split(abs)
	dir = filepath.Clean(dir)
	if dir == abs || leaf == "" {
		return abs
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolved, leaf)
	}
	return abs
}

// hasPathPrefix reports whether path equals dir or lies beneath it.
func hasPathPrefix(path, dir string) bool {
	if dir == "" {
		return false
	}
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}

// InBlacklist reports whether path lies under one of dirs. The raw cleaned
// path is tried first, then both sides are canonicalized. canon may be nil.
func InBlacklist(path string, dirs []string, canon *Canonicalizer) bool {
	if len(dirs) == 0 {
		return false
	}

	clean := filepath.Clean(path)
	for _, dir := range dirs {
		if hasPathPrefix(clean, filepath.Clean(dir)) {
			return true
		}
	}

	if canon == nil {
		return false
	}

	canonical := canon.Canonical(clean)
	for _, dir := range dirs {
		if hasPathPrefix(canonical, canon.Canonical(dir)) {
			return true
		}
	}
	return false
}
