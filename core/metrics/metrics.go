// Package metrics exposes the agent's counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adalundhe/scout/core/ingest"
	"github.com/adalundhe/scout/core/model"
)

const namespace = "scout"

// Sources are the live values mirrored into metrics. Nil fields are skipped.
type Sources struct {
	Monitor         *model.MonitorStats
	Batches         *ingest.BatchStats
	Watched         func() int
	DebouncePending func() int
	BundleRefreshes func() int64
}

// Metrics owns a registry populated from Sources.
type Metrics struct {
	registry  *prometheus.Registry
	batchSize prometheus.Histogram
}

// New builds a registry with process and Go runtime collectors plus the
// agent's own counters.
func New(src Sources) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size_records",
			Help:      "Number of records per delivered batch",
			Buckets:   []float64{1, 5, 10, 25, 50, 100},
		}),
	}
	reg.MustRegister(m.batchSize)

	if s := src.Monitor; s != nil {
		reg.MustRegister(counterFunc("files_processed_total", "Paths run through classification", nil,
			func() float64 { return float64(s.Processed()) }))
		reg.MustRegister(counterFunc("files_accepted_total", "Paths that produced a metadata record", nil,
			func() float64 { return float64(s.Snapshot().Accepted) }))
		for _, reason := range model.AllRejectReasons() {
			reason := reason
			reg.MustRegister(counterFunc("files_rejected_total", "Paths rejected by classification",
				prometheus.Labels{"reason": reason.String()},
				func() float64 { return float64(s.Rejected(reason)) }))
		}
	}

	if b := src.Batches; b != nil {
		reg.MustRegister(counterFunc("records_submitted_total", "Records handed to the ingestion pipeline", nil,
			func() float64 { return float64(b.Submitted()) }))
		reg.MustRegister(counterFunc("records_delivered_total", "Records in successfully delivered batches", nil,
			func() float64 { return float64(b.Delivered()) }))
		reg.MustRegister(counterFunc("records_discarded_total", "Records lost to failed deliveries", nil,
			func() float64 { return float64(b.Discarded()) }))
		reg.MustRegister(counterFunc("batches_sent_total", "Batches delivered", nil,
			func() float64 { return float64(b.BatchesSent()) }))
		reg.MustRegister(counterFunc("batches_failed_total", "Batches that failed delivery", nil,
			func() float64 { return float64(b.BatchesFailed()) }))
		for _, reason := range ingest.AllDropReasons() {
			reason := reason
			reg.MustRegister(counterFunc("records_dropped_total", "Records dropped before batching",
				prometheus.Labels{"reason": reason.String()},
				func() float64 { return float64(b.Dropped(reason)) }))
		}
	}

	if fn := src.Watched; fn != nil {
		reg.MustRegister(gaugeFunc("watched_directories", "Directories with a live watch",
			func() float64 { return float64(fn()) }))
	}
	if fn := src.DebouncePending; fn != nil {
		reg.MustRegister(gaugeFunc("debounce_pending_paths", "Paths waiting in the debounce window",
			func() float64 { return float64(fn()) }))
	}
	if fn := src.BundleRefreshes; fn != nil {
		reg.MustRegister(counterFunc("bundle_refreshes_total", "Bundle extension list refreshes", nil,
			func() float64 { return float64(fn()) }))
	}

	return m
}

// ObserveFlush records a delivered batch. Its signature matches
// ingest.Options.OnFlush.
func (m *Metrics) ObserveFlush(n int, err error) {
	if err == nil {
		m.batchSize.Observe(float64(n))
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func counterFunc(name, help string, labels prometheus.Labels, fn func() float64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, fn)
}

func gaugeFunc(name, help string, fn func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}
