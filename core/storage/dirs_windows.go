//go:build windows

package storage

import (
	"os"
	"path/filepath"
)

// roaming holds settings; everything the agent regenerates or appends to
// lives under the local profile.
func roaming(sub string) string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.Getenv("APPDATA")
	}
	return filepath.Join(base, AppName, sub)
}

func local(sub string) string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.Getenv("LOCALAPPDATA")
	}
	return filepath.Join(base, AppName, sub)
}

func platformConfigDefault() string { return roaming("config") }
func platformDataDefault() string   { return roaming("data") }
func platformCacheDefault() string  { return local("cache") }
func platformStateDefault() string  { return local("state") }
