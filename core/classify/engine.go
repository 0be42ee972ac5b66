// Package classify decides whether a path qualifies for ingestion and, if
// so, builds its FileMetadata record: category, tags, matched rules and
// exclusion annotations.
//
// Filters run cheapest first and each one short-circuits:
//
//	exists -> hidden -> extension whitelist -> bundle -> inside bundle ->
//	blacklist -> local ignore globs -> stat + prefix hash -> rules
//
// Nothing reads file contents before the blacklist and bundle checks pass.
package classify

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adalundhe/scout/core/model"
)

// BundleSource supplies the current OS-bundle suffix list.
type BundleSource interface {
	BundleExtensions(ctx context.Context) []string
}

// staticBundles serves a fixed list.
type staticBundles []string

func (s staticBundles) BundleExtensions(context.Context) []string { return s }

// StaticBundles wraps a fixed suffix list as a BundleSource.
func StaticBundles(exts ...string) BundleSource {
	return staticBundles(exts)
}

// Options configures an Engine. Zero values get defaults.
type Options struct {
	Bundles          BundleSource
	Hasher           Hasher
	Canonicalizer    *Canonicalizer
	Ignore           *IgnoreSet
	PatternCacheSize int
	Logger           *slog.Logger
}

// Engine is safe for concurrent use; it keeps no per-call state.
type Engine struct {
	bundles BundleSource
	hasher  Hasher
	canon   *Canonicalizer
	ignore  *IgnoreSet
	rules   *ruleEngine
	logger  *slog.Logger
}

// New builds an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hasher == nil {
		opts.Hasher = PrefixHasher{Limit: DefaultHashPrefixBytes}
	}
	if opts.Bundles == nil {
		opts.Bundles = StaticBundles()
	}
	if opts.Canonicalizer == nil {
		canon, err := NewCanonicalizer()
		if err != nil {
			return nil, err
		}
		opts.Canonicalizer = canon
	}

	rules, err := newRuleEngine(opts.PatternCacheSize, opts.Logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		bundles: opts.Bundles,
		hasher:  opts.Hasher,
		canon:   opts.Canonicalizer,
		ignore:  opts.Ignore,
		rules:   rules,
		logger:  opts.Logger,
	}, nil
}

// Canonicalizer exposes the engine's path cache for callers that pre-filter.
func (e *Engine) Canonicalizer() *Canonicalizer {
	return e.canon
}

// Ignore exposes the engine's local ignore patterns.
func (e *Engine) Ignore() *IgnoreSet {
	return e.ignore
}

// Bundles returns the current bundle suffix list.
func (e *Engine) Bundles(ctx context.Context) []string {
	return e.bundles.BundleExtensions(ctx)
}

// Close releases the path cache.
func (e *Engine) Close() {
	e.canon.Close()
}

// Classify evaluates path against snap. It returns either a record or a
// *model.Rejection; any other error is a failure reading the file.
func (e *Engine) Classify(ctx context.Context, path string, snap *model.Configuration) (*model.FileMetadata, error) {
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, model.Reject(path, model.RejectVanished)
		}
		return nil, model.Reject(path, model.RejectStatFailed)
	}

	if reason, rejected := e.prefilter(ctx, path, info.IsDir(), snap); rejected {
		return nil, model.Reject(path, reason)
	}

	return e.build(path, info, snap)
}

// Prefilter runs the cheap checks used to prune a directory walk. It does
// not stat anything except the bundle marker of directories.
func (e *Engine) Prefilter(ctx context.Context, path string, isDir bool, snap *model.Configuration) (model.RejectReason, bool) {
	return e.prefilter(ctx, filepath.Clean(path), isDir, snap)
}

func (e *Engine) prefilter(ctx context.Context, path string, isDir bool, snap *model.Configuration) (model.RejectReason, bool) {
	if IsHidden(path) {
		return model.RejectHidden, true
	}

	if !isDir && !snap.ExtensionAllowed(model.ExtensionOf(path)) {
		return model.RejectNotWhitelisted, true
	}

	bundles := e.bundles.BundleExtensions(ctx)
	if IsBundlePath(path, isDir, bundles) {
		return model.RejectBundle, true
	}
	if IsInsideBundle(path, bundles) {
		return model.RejectInsideBundle, true
	}

	if InBlacklist(path, snap.Blacklist(), e.canon) {
		return model.RejectBlacklisted, true
	}

	if e.ignore.Match(path) {
		return model.RejectIgnored, true
	}

	return 0, false
}

// build constructs the record for a path that passed every filter.
func (e *Engine) build(path string, info fs.FileInfo, snap *model.Configuration) (*model.FileMetadata, error) {
	m := &model.FileMetadata{
		FilePath:     path,
		FileName:     filepath.Base(path),
		CreatedTime:  CreatedTime(info).Unix(),
		ModifiedTime: info.ModTime().Unix(),
		IsDir:        info.IsDir(),
		IsHidden:     IsHidden(path),
	}

	if !m.IsDir {
		m.Extension = model.ExtensionOf(path)
		m.FileSize = info.Size()

		hash, err := e.hasher.Hash(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, model.Reject(path, model.RejectVanished)
			}
			e.logger.Debug("prefix hash failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		m.FileHash = hash
	}

	e.rules.apply(m, snap)

	if m.IsHidden && !m.Excluded() {
		m.MarkExcluded(0, model.ExcludedHiddenRuleName)
	}

	return m, nil
}

// ReasonOf extracts the rejection reason from a Classify error.
func ReasonOf(err error) (model.RejectReason, bool) {
	var rej *model.Rejection
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return 0, false
}
