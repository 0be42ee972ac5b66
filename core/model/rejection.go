package model

import "fmt"

// RejectReason says why a path did not produce a FileMetadata record.
type RejectReason int

const (
	RejectVanished RejectReason = iota
	RejectHidden
	RejectNotWhitelisted
	RejectBundle
	RejectInsideBundle
	RejectBlacklisted
	RejectIgnored
	RejectStatFailed

	numRejectReasons = int(RejectStatFailed) + 1
)

var rejectReasonNames = map[RejectReason]string{
	RejectVanished:       "vanished",
	RejectHidden:         "hidden",
	RejectNotWhitelisted: "not_whitelisted",
	RejectBundle:         "bundle",
	RejectInsideBundle:   "inside_bundle",
	RejectBlacklisted:    "blacklisted",
	RejectIgnored:        "ignored",
	RejectStatFailed:     "stat_failed",
}

func (r RejectReason) String() string {
	if name, ok := rejectReasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// AllRejectReasons lists every reason in declaration order.
func AllRejectReasons() []RejectReason {
	return []RejectReason{
		RejectVanished, RejectHidden, RejectNotWhitelisted, RejectBundle,
		RejectInsideBundle, RejectBlacklisted, RejectIgnored, RejectStatFailed,
	}
}

// Rejection is returned by the classifier for a path that does not qualify.
// It is an expected outcome, not a failure.
type Rejection struct {
	Path   string
	Reason RejectReason
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected %s: %s", r.Path, r.Reason)
}

// Reject builds a Rejection.
func Reject(path string, reason RejectReason) *Rejection {
	return &Rejection{Path: path, Reason: reason}
}
