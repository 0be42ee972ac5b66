package model

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Configuration is an immutable snapshot of the remote rule set and
// directory list. Build it with NewConfiguration and never mutate it after;
// holders swap the whole pointer on refresh.
type Configuration struct {
	Categories       []FileCategory       `json:"file_categories"`
	FilterRules      []FilterRule         `json:"file_filter_rules"`
	ExtensionMaps    []ExtensionMap       `json:"file_extension_maps"`
	MonitoredFolders []MonitoredDirectory `json:"monitored_folders"`
	FullDiskAccess   bool                 `json:"full_disk_access"`

	// BundleExtensions is optional; when present it primes the bundle cache.
	BundleExtensions []string `json:"bundle_extensions,omitempty"`

	// ErrorMessage is set by the service when it could not assemble the
	// configuration. Such a response is treated as a failed fetch.
	ErrorMessage string `json:"error_message,omitempty"`

	FetchedAt time.Time `json:"-"`

	categories map[int]FileCategory
	extensions map[string]ExtensionMap
	watchSet   []string
	blacklist  []string
}

// NewConfiguration precomputes the lookup tables and directory sets of c
// and returns it. The input must not be modified afterwards.
func NewConfiguration(c *Configuration) *Configuration {
	if c == nil {
		c = &Configuration{}
	}
	if c.FetchedAt.IsZero() {
		c.FetchedAt = time.Now()
	}

	c.categories = make(map[int]FileCategory, len(c.Categories))
	for _, cat := range c.Categories {
		c.categories[cat.ID] = cat
	}

	c.extensions = make(map[string]ExtensionMap, len(c.ExtensionMaps))
	for _, em := range c.ExtensionMaps {
		ext := NormalizeExtension(em.Extension)
		if _, dup := c.extensions[ext]; !dup {
			c.extensions[ext] = em
		}
	}

	c.watchSet, c.blacklist = partitionDirectories(c.MonitoredFolders, c.FullDiskAccess)
	return c
}

// partitionDirectories derives the watch set and blacklist, both sorted and
// free of duplicates.
func partitionDirectories(dirs []MonitoredDirectory, fullDiskAccess bool) ([]string, []string) {
	watch := make(map[string]struct{})
	black := make(map[string]struct{})

	for _, d := range dirs {
		if d.Path == "" {
			continue
		}
		switch {
		case d.IsBlacklist:
			black[d.CleanPath()] = struct{}{}
		case d.Watchable(fullDiskAccess):
			watch[d.CleanPath()] = struct{}{}
		}
	}

	return sortedKeys(watch), sortedKeys(black)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WatchSet returns the directories that should be watched and scanned.
// Callers must not modify the returned slice.
func (c *Configuration) WatchSet() []string {
	return c.watchSet
}

// Blacklist returns the blacklisted directory prefixes.
// Callers must not modify the returned slice.
func (c *Configuration) Blacklist() []string {
	return c.blacklist
}

// HasExtensionWhitelist reports whether extension filtering is active.
func (c *Configuration) HasExtensionWhitelist() bool {
	return len(c.extensions) > 0
}

// ExtensionAllowed reports whether ext passes the whitelist. An empty
// extension map allows everything; a missing extension never passes a
// non-empty map.
func (c *Configuration) ExtensionAllowed(ext string) bool {
	if !c.HasExtensionWhitelist() {
		return true
	}
	ext = NormalizeExtension(ext)
	if ext == "" {
		return false
	}
	_, ok := c.extensions[ext]
	return ok
}

// LookupExtension returns the extension mapping for ext.
func (c *Configuration) LookupExtension(ext string) (ExtensionMap, bool) {
	em, ok := c.extensions[NormalizeExtension(ext)]
	return em, ok
}

// Category returns the category with the given id.
func (c *Configuration) Category(id int) (FileCategory, bool) {
	cat, ok := c.categories[id]
	return cat, ok
}

// EnabledRules returns the rules that may be evaluated, in configured order.
func (c *Configuration) EnabledRules() []FilterRule {
	out := make([]FilterRule, 0, len(c.FilterRules))
	for _, r := range c.FilterRules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// Failed reports whether the service flagged this snapshot as an error reply.
func (c *Configuration) Failed() bool {
	return c.ErrorMessage != ""
}

// NormalizeExtension lowercases ext and strips a leading dot.
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// ExtensionOf returns the normalized extension of a path's final element.
func ExtensionOf(path string) string {
	return NormalizeExtension(filepath.Ext(filepath.Base(path)))
}
