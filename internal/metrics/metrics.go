// Package metrics holds the Prometheus collectors for sync runs, tier
// changes, and page fan-out. Collectors are registered on the default
// registry at init and served by Handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SyncRunsTotal counts finished runs by mode (delta, warmup, pages)
	// and result (success, failure, skipped).
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exigo_sync_runs_total",
			Help: "Total number of sync runs by company, mode and result",
		},
		[]string{"company", "mode", "result"},
	)

	TierChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exigo_sync_tier_changes_total",
			Help: "Total number of applied tier changes by company, tier and source",
		},
		[]string{"company", "tier", "source"},
	)

	// CustomerFailuresTotal counts per-customer failures by stage
	// (lookup, subscription, tier, mirror, audit).
	CustomerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exigo_sync_customer_failures_total",
			Help: "Total number of per-customer failures by company and stage",
		},
		[]string{"company", "stage"},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exigo_sync_run_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
		[]string{"company"},
	)

	SnapshotSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exigo_sync_snapshot_size",
			Help: "Number of external IDs in the latest persisted snapshot",
		},
		[]string{"company"},
	)

	PagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exigo_sync_pages_total",
			Help: "Total number of customer pages processed by company and result",
		},
		[]string{"company", "result"},
	)
)

func init() {
	prometheus.MustRegister(SyncRunsTotal)
	prometheus.MustRegister(TierChangesTotal)
	prometheus.MustRegister(CustomerFailuresTotal)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(SnapshotSize)
	prometheus.MustRegister(PagesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram vector.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDurationVec records the elapsed seconds under labels.
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
