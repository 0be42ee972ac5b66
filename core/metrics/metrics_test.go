package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/scout/core/ingest"
	"github.com/adalundhe/scout/core/model"
)

func TestMetrics_MirrorsCounters(t *testing.T) {
	t.Parallel()

	stats := &model.MonitorStats{}
	stats.RecordAccepted()
	stats.RecordRejected(model.RejectHidden)
	stats.RecordRejected(model.RejectHidden)

	m := New(Sources{
		Monitor: stats,
		Batches: &ingest.BatchStats{},
		Watched: func() int { return 3 },
	})

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, "scout_files_processed_total 3")
	assert.Contains(t, body, `scout_files_rejected_total{reason="hidden"} 2`)
	assert.Contains(t, body, "scout_watched_directories 3")
	assert.Contains(t, body, `scout_records_dropped_total{reason="bundle"} 0`)
}

func TestMetrics_ObserveFlush(t *testing.T) {
	t.Parallel()

	m := New(Sources{})
	m.ObserveFlush(50, nil)
	m.ObserveFlush(10, errors.New("refused"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "scout_batch_size_records_count 1")
}
