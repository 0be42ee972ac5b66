package classify

import (
	"errors"
	"path/filepath"

	"github.com/gobwas/glob"
)

// ErrInvalidPattern indicates an ignore pattern could not be compiled.
var ErrInvalidPattern = errors.New("invalid ignore pattern")

// IgnoreSet holds locally configured glob exclusions.
type IgnoreSet struct {
	globs []glob.Glob
}

// CompileIgnoreSet compiles patterns with '/' as the separator.
func CompileIgnoreSet(patterns []string) (*IgnoreSet, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, err)
		}
		globs = append(globs, g)
	}
	return &IgnoreSet{globs: globs}, nil
}

// Match reports whether path matches any pattern. A nil set matches nothing.
func (s *IgnoreSet) Match(path string) bool {
	if s == nil {
		return false
	}
	slashed := filepath.ToSlash(path)
	for _, g := range s.globs {
		if g.Match(slashed) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled patterns.
func (s *IgnoreSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.globs)
}
