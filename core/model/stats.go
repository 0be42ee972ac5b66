package model

import "sync/atomic"

// MonitorStats counts classification outcomes. Counters only grow.
type MonitorStats struct {
	processed atomic.Int64
	accepted  atomic.Int64
	rejected  [numRejectReasons]atomic.Int64
}

// MonitorStatsSnapshot is a point-in-time copy of MonitorStats.
type MonitorStatsSnapshot struct {
	ProcessedFiles int64                  `json:"processed_files"`
	Accepted       int64                  `json:"accepted"`
	Rejected       map[RejectReason]int64 `json:"-"`
}

// RecordAccepted counts a path that produced a record.
func (s *MonitorStats) RecordAccepted() {
	s.processed.Add(1)
	s.accepted.Add(1)
}

// RecordRejected counts a rejected path under its reason.
func (s *MonitorStats) RecordRejected(reason RejectReason) {
	s.processed.Add(1)
	if int(reason) >= 0 && int(reason) < len(s.rejected) {
		s.rejected[reason].Add(1)
	}
}

// Processed returns the number of paths classified so far.
func (s *MonitorStats) Processed() int64 {
	return s.processed.Load()
}

// Rejected returns the count for one reason.
func (s *MonitorStats) Rejected(reason RejectReason) int64 {
	if int(reason) < 0 || int(reason) >= len(s.rejected) {
		return 0
	}
	return s.rejected[reason].Load()
}

// Snapshot copies the counters.
func (s *MonitorStats) Snapshot() MonitorStatsSnapshot {
	snap := MonitorStatsSnapshot{
		ProcessedFiles: s.processed.Load(),
		Accepted:       s.accepted.Load(),
		Rejected:       make(map[RejectReason]int64, len(s.rejected)),
	}
	for _, reason := range AllRejectReasons() {
		snap.Rejected[reason] = s.rejected[reason].Load()
	}
	return snap
}
