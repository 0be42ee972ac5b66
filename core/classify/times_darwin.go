//go:build darwin

package classify

import (
	"io/fs"
	"syscall"
	"time"
)

// CreatedTime returns the birth time of info.
func CreatedTime(info fs.FileInfo) time.Time {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Birthtimespec.Sec, st.Birthtimespec.Nsec)
	}
	return info.ModTime()
}
