//go:build linux

package classify

import (
	"io/fs"
	"syscall"
	"time"
)

// CreatedTime returns the creation time of info. Linux does not expose birth time through stat; ctime is the closest.
func CreatedTime(info fs.FileInfo) time.Time {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(int64(st.Ctim.Sec), int64(st.Ctim.Nsec))
	}
	return info.ModTime()
}
