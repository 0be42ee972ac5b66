//go:build darwin

package storage

import (
	"os"
	"path/filepath"
)

func platformConfigDefault() string {
	return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", AppName)
}

func platformDataDefault() string {
	return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", AppName, "data")
}

func platformCacheDefault() string {
	return filepath.Join(os.Getenv("HOME"), "Library", "Caches", AppName)
}

func platformStateDefault() string {
	return filepath.Join(os.Getenv("HOME"), "Library", "Logs", AppName)
}
