// Package scan walks monitored directories. Driver.Scan feeds every
// qualifying file into ingestion when monitoring starts; Driver.Query lists
// recently modified files without submitting anything.
package scan

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/adalundhe/scout/core/classify"
	"github.com/adalundhe/scout/core/model"
)

// Classifier is the subset of *classify.Engine the driver needs.
type Classifier interface {
	Classify(ctx context.Context, path string, snap *model.Configuration) (*model.FileMetadata, error)
	Prefilter(ctx context.Context, path string, isDir bool, snap *model.Configuration) (model.RejectReason, bool)
}

// SubmitFunc receives each accepted record.
type SubmitFunc func(ctx context.Context, m *model.FileMetadata) error

// Result summarizes one scan.
type Result struct {
	Directories int           `json:"directories"`
	Visited     int64         `json:"visited"`
	Submitted   int64         `json:"submitted"`
	Rejected    int64         `json:"rejected"`
	Pruned      int64         `json:"pruned"`
	Duration    time.Duration `json:"duration"`
}

// Driver walks directory trees through a Classifier.
type Driver struct {
	classifier Classifier
	stats      *model.MonitorStats
	logger     *slog.Logger
}

// NewDriver creates a driver. stats may be nil.
func NewDriver(c Classifier, stats *model.MonitorStats, logger *slog.Logger) *Driver {
	if stats == nil {
		stats = &model.MonitorStats{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{classifier: c, stats: stats, logger: logger}
}

// Stats returns the counters the driver records into.
func (d *Driver) Stats() *model.MonitorStats {
	return d.stats
}

// Scan walks each directory, pruning rejected sub-trees at entry, and
// submits every file that classifies. A failing directory is logged and
// skipped; only context cancellation or a submit error stops the scan.
func (d *Driver) Scan(ctx context.Context, dirs []string, snap *model.Configuration, submit SubmitFunc) (Result, error) {
	start := time.Now()
	var res Result

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}

		if err := d.scanDir(ctx, filepath.Clean(dir), snap, submit, &res); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				res.Duration = time.Since(start)
				return res, err
			}
			if isSubmitError(err) {
				res.Duration = time.Since(start)
				return res, err
			}
			d.logger.Warn("directory scan failed", "dir", dir, "error", err)
			continue
		}
		res.Directories++
	}

	res.Duration = time.Since(start)
	d.logger.Info("initial scan finished",
		"directories", res.Directories,
		"visited", res.Visited,
		"submitted", res.Submitted,
		"rejected", res.Rejected,
		"pruned", res.Pruned,
		"duration", res.Duration)
	return res, nil
}

type submitError struct{ err error }

func (e *submitError) Error() string { return e.err.Error() }
func (e *submitError) Unwrap() error { return e.err }

func isSubmitError(err error) bool {
	var se *submitError
	return errors.As(err, &se)
}

func (d *Driver) scanDir(ctx context.Context, root string, snap *model.Configuration, submit SubmitFunc, res *Result) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			d.logger.Debug("scan entry unreadable", "path", path, "error", err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == root {
			return nil
		}

		res.Visited++
		isDir := entry.IsDir()

		if reason, rejected := d.classifier.Prefilter(ctx, path, isDir, snap); rejected {
			d.stats.RecordRejected(reason)
			if isDir {
				res.Pruned++
				return filepath.SkipDir
			}
			res.Rejected++
			return nil
		}
		if isDir || !entry.Type().IsRegular() {
			return nil
		}

		m, err := d.classifier.Classify(ctx, path, snap)
		if err != nil {
			if reason, ok := classify.ReasonOf(err); ok {
				d.stats.RecordRejected(reason)
			} else {
				d.stats.RecordRejected(model.RejectStatFailed)
			}
			res.Rejected++
			return nil
		}

		d.stats.RecordAccepted()
		if err := submit(ctx, m); err != nil {
			return &submitError{err: err}
		}
		res.Submitted++
		return nil
	})
}
