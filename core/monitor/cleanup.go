package monitor

import (
	"context"
	"log/slog"
	"sort"

	"github.com/adalundhe/scout/core/config"
	scouterrors "github.com/adalundhe/scout/core/errors"
	"github.com/adalundhe/scout/core/model"
)

// Cleaner drops remote records under a path.
type Cleaner interface {
	CleanByPath(ctx context.Context, path string) (int, error)
}

// CleanupTargets returns directories whose records should be dropped after
// a configuration change: directories that became blacklisted and
// directories no longer listed at all.
func CleanupTargets(old, current *model.Configuration) []string {
	if old == nil || current == nil {
		return nil
	}

	wasBlack := toSet(old.Blacklist())
	listed := make(map[string]struct{}, len(current.MonitoredFolders))
	for _, d := range current.MonitoredFolders {
		listed[d.CleanPath()] = struct{}{}
	}

	targets := make(map[string]struct{})
	for _, dir := range current.Blacklist() {
		if _, ok := wasBlack[dir]; !ok {
			targets[dir] = struct{}{}
		}
	}
	for _, d := range old.MonitoredFolders {
		if d.Path == "" {
			continue
		}
		dir := d.CleanPath()
		if _, ok := listed[dir]; !ok {
			targets[dir] = struct{}{}
		}
	}

	out := make([]string, 0, len(targets))
	for dir := range targets {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

// CleanupPolicy is the bounded backoff used for clean-by-path calls.
func CleanupPolicy(c config.CleanupConfig) *scouterrors.RetryPolicy {
	return &scouterrors.RetryPolicy{
		MaxAttempts:   c.MaxAttempts,
		InitialDelay:  c.InitialDelay,
		MaxDelay:      10 * c.InitialDelay,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

// CleanPath calls CleanByPath under policy. Exhausting the budget yields a
// CleanupFailed error; callers treat it as a warning.
func CleanPath(ctx context.Context, c Cleaner, path string, policy *scouterrors.RetryPolicy, logger *slog.Logger) (int, error) {
	var deleted int
	err := scouterrors.Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		n, err := c.CleanByPath(ctx, path)
		if err != nil {
			logger.Debug("clean by path attempt failed", "path", path, "attempt", attempt, "error", err)
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, scouterrors.New(scouterrors.KindCleanupFailed, "monitor.clean", err).WithPath(path)
	}
	return deleted, nil
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, s := range items {
		out[s] = struct{}{}
	}
	return out
}
