//go:build !darwin && !linux

package classify

import (
	"io/fs"
	"time"
)

// CreatedTime falls back to the modification time.
func CreatedTime(info fs.FileInfo) time.Time {
	return info.ModTime()
}
