package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync collects counters for the external-user synchronization job.
// A nil *Sync is valid and records nothing.
type Sync struct {
	runs        *prometheus.CounterVec
	records     *prometheus.CounterVec
	duration    prometheus.Histogram
	pageFetches *prometheus.CounterVec
}

// NewSync registers the sync collectors on the provided registerer.
func NewSync(registerer prometheus.Registerer) *Sync {
	factory := promauto.With(registerer)
	return &Sync{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userdir_sync_runs_total",
				Help: "Total number of external user sync runs",
			},
			[]string{"source"},
		),
		records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userdir_sync_records_total",
				Help: "Total number of candidate records processed by the sync job",
			},
			[]string{"result"},
		),
		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "userdir_sync_duration_seconds",
				Help:    "Sync run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
		),
		pageFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userdir_directory_page_fetches_total",
				Help: "Total number of remote directory page fetches",
			},
			[]string{"status"},
		),
	}
}

// ObserveRun records the outcome of one sync run.
func (m *Sync) ObserveRun(usedFallback bool, imported, skipped, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	source := "remote"
	if usedFallback {
		source = "fallback"
	}
	m.runs.WithLabelValues(source).Inc()
	m.records.WithLabelValues("imported").Add(float64(imported))
	m.records.WithLabelValues("skipped").Add(float64(skipped))
	m.records.WithLabelValues("error").Add(float64(failed))
	m.duration.Observe(elapsed.Seconds())
}

// ObservePageFetch records whether a single page fetch succeeded.
func (m *Sync) ObservePageFetch(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.pageFetches.WithLabelValues(status).Inc()
}
