// Package storage resolves the platform directories scout reads its
// settings from and writes its logs to.
package storage

import (
	"os"
	"path/filepath"
	"sync"
)

// AppName is the directory name used under every platform root.
const AppName = "scout"

// Dirs holds the resolved platform directories.
type Dirs struct {
	Config string // config.yaml
	Data   string // reserved for exported reports
	Cache  string // regenerable data
	State  string // logs and runtime files
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
)

// ResolveDirs returns platform-appropriate directories.
// Results are cached after first call.
func ResolveDirs() (*Dirs, error) {
	globalDirsOnce.Do(func() {
		globalDirs = resolveDirsImpl()
	})
	return globalDirs, nil
}

func resolveDirsImpl() *Dirs {
	return &Dirs{
		Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
		Data:   resolveDir("XDG_DATA_HOME", platformDataDefault()),
		Cache:  resolveDir("XDG_CACHE_HOME", platformCacheDefault()),
		State:  resolveDir("XDG_STATE_HOME", platformStateDefault()),
	}
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, AppName)
	}
	return fallback
}

// EnsureDir creates a directory with the specified permissions if it doesn't exist.
// Uses 0700 when perm is zero.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0700
	}
	return os.MkdirAll(path, perm)
}

// ConfigDir returns the config subdirectory path.
func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

// StateDir returns the state subdirectory path.
func (d *Dirs) StateDir(subpath ...string) string {
	return filepath.Join(append([]string{d.State}, subpath...)...)
}

// LogDir returns the log directory.
func (d *Dirs) LogDir() string {
	return d.StateDir("logs")
}

// DefaultLogFile is where the rotating log lives when none is configured.
func (d *Dirs) DefaultLogFile() string {
	return filepath.Join(d.LogDir(), AppName+".log")
}

// EnsureAll creates the config and log directories.
func (d *Dirs) EnsureAll() error {
	if err := EnsureDir(d.Config, 0700); err != nil {
		return err
	}
	return EnsureDir(d.LogDir(), 0755)
}
