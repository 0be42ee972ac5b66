// Package model defines the records exchanged between the watcher, the
// classifier, the ingestion pipeline and the remote screening service.
package model

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// =============================================================================
// AuthStatus
// =============================================================================

// AuthStatus is the authorization state of a monitored directory.
type AuthStatus int

const (
	// AuthPending means the user has not yet granted access.
	AuthPending AuthStatus = iota

	// AuthAuthorized means the directory may be watched and scanned.
	AuthAuthorized

	// AuthUnauthorized means access was refused or revoked.
	AuthUnauthorized
)

var authStatusNames = map[AuthStatus]string{
	AuthPending:      "pending",
	AuthAuthorized:   "authorized",
	AuthUnauthorized: "unauthorized",
}

// String returns the wire name of the status.
func (s AuthStatus) String() string {
	if name, ok := authStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseAuthStatus converts a wire name into an AuthStatus, ignoring case.
func ParseAuthStatus(s string) (AuthStatus, error) {
	for status, name := range authStatusNames {
		if strings.EqualFold(s, name) {
			return status, nil
		}
	}
	return AuthPending, fmt.Errorf("unknown auth status %q", s)
}

// MarshalJSON encodes the status as its lowercase wire name.
func (s AuthStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts any casing of the wire name.
func (s *AuthStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseAuthStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// =============================================================================
// MonitoredDirectory
// =============================================================================

// MonitoredDirectory is one entry of the remote directory list. Entries with
// IsBlacklist set are never watched and only serve as exclusion prefixes.
type MonitoredDirectory struct {
	ID          *int       `json:"id,omitempty"`
	Path        string     `json:"path"`
	Alias       string     `json:"alias,omitempty"`
	IsBlacklist bool       `json:"is_blacklist"`
	AuthStatus  AuthStatus `json:"auth_status"`
	CreatedAt   string     `json:"created_at,omitempty"`
	UpdatedAt   string     `json:"updated_at,omitempty"`
}

// CleanPath returns the directory path in cleaned form.
func (d MonitoredDirectory) CleanPath() string {
	return filepath.Clean(d.Path)
}

// Watchable reports whether the directory qualifies for a watch given the
// full-disk-access grant.
func (d MonitoredDirectory) Watchable(fullDiskAccess bool) bool {
	if d.IsBlacklist || d.Path == "" {
		return false
	}
	return fullDiskAccess || d.AuthStatus == AuthAuthorized
}
