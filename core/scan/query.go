package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/adalundhe/scout/core/classify"
	"github.com/adalundhe/scout/core/model"
)

// DefaultQueryLimit caps the number of files a query returns.
const DefaultQueryLimit = 500

// ErrNoExtensionMaps is returned when a query has no whitelist to match.
var ErrNoExtensionMaps = errors.New("configuration has no file extension maps")

// =============================================================================
// TimeRange
// =============================================================================

// TimeRange bounds the modification time of query results.
type TimeRange int

const (
	RangeAll TimeRange = iota
	RangeToday
	RangeLast7Days
	RangeLast30Days
)

// ParseTimeRange accepts "all", "today", "7d"/"last7days" and
// "30d"/"last30days".
func ParseTimeRange(s string) (TimeRange, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return RangeAll, nil
	case "today", "1d":
		return RangeToday, nil
	case "7d", "last7days":
		return RangeLast7Days, nil
	case "30d", "last30days":
		return RangeLast30Days, nil
	}
	return RangeAll, fmt.Errorf("unknown time range %q", s)
}

// Since returns the oldest modification time included by r.
func (r TimeRange) Since(now time.Time) time.Time {
	switch r {
	case RangeToday:
		return now.Add(-24 * time.Hour)
	case RangeLast7Days:
		return now.Add(-7 * 24 * time.Hour)
	case RangeLast30Days:
		return now.Add(-30 * 24 * time.Hour)
	}
	return time.Time{}
}

// =============================================================================
// FileType
// =============================================================================

// FileType groups categories for queries.
type FileType int

const (
	TypeAll FileType = iota
	TypeDocument
	TypeImage
	TypeAudioVideo
	TypeArchive
)

// categoryForType holds the service's built-in category ids.
var categoryForType = map[FileType]int{
	TypeDocument:   1,
	TypeImage:      2,
	TypeAudioVideo: 3,
	TypeArchive:    4,
}

// ParseFileType accepts "all", "document", "image", "audio-video" and
// "archive".
func ParseFileType(s string) (FileType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return TypeAll, nil
	case "document", "documents":
		return TypeDocument, nil
	case "image", "images":
		return TypeImage, nil
	case "audio-video", "media":
		return TypeAudioVideo, nil
	case "archive", "archives":
		return TypeArchive, nil
	}
	return TypeAll, fmt.Errorf("unknown file type %q", s)
}

// =============================================================================
// Query
// =============================================================================

// Filter selects files for Query.
type Filter struct {
	Range TimeRange
	Type  FileType
	Limit int
	Now   time.Time
}

// FileInfo is one query result.
type FileInfo struct {
	FilePath     string     `json:"file_path"`
	FileName     string     `json:"file_name"`
	FileSize     int64      `json:"file_size"`
	Extension    string     `json:"extension,omitempty"`
	CreatedTime  *time.Time `json:"created_time,omitempty"`
	ModifiedTime time.Time  `json:"modified_time"`
	CategoryID   *int       `json:"category_id,omitempty"`
}

// Query lists whitelisted files in the watch set that match filter. It
// stops at filter.Limit results.
func (d *Driver) Query(ctx context.Context, snap *model.Configuration, filter Filter) ([]FileInfo, error) {
	if !snap.HasExtensionWhitelist() {
		return nil, ErrNoExtensionMaps
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	now := filter.Now
	if now.IsZero() {
		now = time.Now()
	}
	since := filter.Range.Since(now)

	var files []FileInfo
	errLimit := errors.New("limit reached")

	for _, root := range snap.WatchSet() {
		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if path == root {
				return nil
			}
			if _, rejected := d.classifier.Prefilter(ctx, path, entry.IsDir(), snap); rejected {
				if entry.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !entry.Type().IsRegular() {
				return nil
			}

			info, ok := d.match(path, entry, snap, filter.Type, since)
			if !ok {
				return nil
			}
			files = append(files, info)
			if len(files) >= limit {
				return errLimit
			}
			return nil
		})

		if errors.Is(err, errLimit) {
			break
		}
		if err != nil {
			return files, err
		}
	}
	return files, nil
}

func (d *Driver) match(path string, entry fs.DirEntry, snap *model.Configuration, typ FileType, since time.Time) (FileInfo, bool) {
	ext := model.ExtensionOf(path)
	em, mapped := snap.LookupExtension(ext)

	if typ != TypeAll {
		want, ok := categoryForType[typ]
		if !ok || !mapped || em.CategoryID != want {
			return FileInfo{}, false
		}
	}

	info, err := entry.Info()
	if err != nil {
		return FileInfo{}, false
	}
	if !since.IsZero() && info.ModTime().Before(since) {
		return FileInfo{}, false
	}

	fi := FileInfo{
		FilePath:     path,
		FileName:     filepath.Base(path),
		FileSize:     info.Size(),
		Extension:    ext,
		ModifiedTime: info.ModTime(),
	}
	if created := classify.CreatedTime(info); !created.IsZero() {
		fi.CreatedTime = &created
	}
	if mapped {
		id := em.CategoryID
		fi.CategoryID = &id
	}
	return fi, true
}
