package classify

import (
	"os"
	"path/filepath"
	"strings"
)

// bundleMarker is the sub-structure that identifies an unsuffixed bundle.
var bundleMarker = filepath.Join("Contents", "Info.plist")

// segments splits a cleaned path into its non-empty components.
func segments(path string) []string {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsHidden reports whether any component of path starts with a dot.
// "." and ".." are not hidden.
func IsHidden(path string) bool {
	for _, seg := range segments(path) {
		if isHiddenName(seg) {
			return true
		}
	}
	return false
}

func isHiddenName(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// hasBundleSuffix reports whether name ends with one of exts, ignoring case.
// exts are dotted lowercase suffixes.
func hasBundleSuffix(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if ext != "" && strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			return true
		}
	}
	return false
}

// IsBundlePath reports whether the leaf of path is an OS bundle: its name
// carries a bundle suffix, or it is a directory containing Contents/Info.plist.
func IsBundlePath(path string, isDir bool, exts []string) bool {
	if hasBundleSuffix(filepath.Base(path), exts) {
		return true
	}
	if !isDir {
		return false
	}
	_, err := os.Stat(filepath.Join(path, bundleMarker))
	return err == nil
}

// IsInsideBundle reports whether an ancestor component of path carries a
// bundle suffix. The leaf itself is not considered.
func IsInsideBundle(path string, exts []string) bool {
	segs := segments(path)
	if len(segs) < 2 {
		return false
	}
	for _, seg := range segs[:len(segs)-1] {
		if hasBundleSuffix(seg, exts) {
			return true
		}
	}
	return false
}

// IsSystemArtifact reports whether name is an OS-generated metadata file.
func IsSystemArtifact(name string) bool {
	switch strings.ToLower(name) {
	case ".ds_store", "thumbs.db", "desktop.ini", ".localized", "icon\r", ".spotlight-v100", ".trashes", ".fseventsd":
		return true
	}
	return strings.HasPrefix(name, "._") || strings.HasPrefix(name, "~$")
}
