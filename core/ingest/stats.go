package ingest

import "sync/atomic"

// BatchStats counts pipeline activity. Counters only grow.
type BatchStats struct {
	submitted     atomic.Int64
	dropped       [numDropReasons]atomic.Int64
	batchesSent   atomic.Int64
	batchesFailed atomic.Int64
	delivered     atomic.Int64
	discarded     atomic.Int64
}

// BatchStatsSnapshot is a point-in-time copy of BatchStats.
type BatchStatsSnapshot struct {
	Submitted     int64                `json:"submitted"`
	Dropped       map[DropReason]int64 `json:"-"`
	BatchesSent   int64                `json:"batches_sent"`
	BatchesFailed int64                `json:"batches_failed"`
	Delivered     int64                `json:"delivered"`
	Discarded     int64                `json:"discarded"`
	Buffered      int                  `json:"buffered"`
}

// TotalDropped sums every drop reason.
func (s BatchStatsSnapshot) TotalDropped() int64 {
	var total int64
	for _, n := range s.Dropped {
		total += n
	}
	return total
}

func (s *BatchStats) recordDrop(reason DropReason) {
	if reason >= 0 && reason < numDropReasons {
		s.dropped[reason].Add(1)
	}
}

// Dropped returns the count for one reason.
func (s *BatchStats) Dropped(reason DropReason) int64 {
	if reason < 0 || reason >= numDropReasons {
		return 0
	}
	return s.dropped[reason].Load()
}

// Submitted returns the number of records handed to the pipeline.
func (s *BatchStats) Submitted() int64 { return s.submitted.Load() }

// BatchesSent returns the number of successful flushes.
func (s *BatchStats) BatchesSent() int64 { return s.batchesSent.Load() }

// BatchesFailed returns the number of failed flushes.
func (s *BatchStats) BatchesFailed() int64 { return s.batchesFailed.Load() }

// Delivered returns the number of records in successful flushes.
func (s *BatchStats) Delivered() int64 { return s.delivered.Load() }

// Discarded returns the number of records lost to failed flushes.
func (s *BatchStats) Discarded() int64 { return s.discarded.Load() }

func (s *BatchStats) snapshot(buffered int) BatchStatsSnapshot {
	snap := BatchStatsSnapshot{
		Submitted:     s.submitted.Load(),
		Dropped:       make(map[DropReason]int64, numDropReasons),
		BatchesSent:   s.batchesSent.Load(),
		BatchesFailed: s.batchesFailed.Load(),
		Delivered:     s.delivered.Load(),
		Discarded:     s.discarded.Load(),
		Buffered:      buffered,
	}
	for _, r := range AllDropReasons() {
		snap.Dropped[r] = s.dropped[r].Load()
	}
	return snap
}
