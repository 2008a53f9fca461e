package workers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers every worker loop with a shared label set so one Grafana
// panel catches a stuck worker regardless of which one it is.
type Metrics struct {
	Runs      *prometheus.CounterVec
	Processed *prometheus.CounterVec
	Errors    *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	Settled   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Completed worker cycles.",
		}, []string{"worker"}),
		Processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_items_processed_total",
			Help: "Items handled across worker cycles.",
		}, []string{"worker"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_errors_total",
			Help: "Worker cycles that returned an error.",
		}, []string{"worker"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "worker_run_duration_seconds",
			Help:    "Wall time of one worker cycle.",
			Buckets: prometheus.DefBuckets,
		}, []string{"worker"}),
		Settled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deals_settled_total",
			Help: "Deals that reached a settlement outcome.",
		}, []string{"outcome"}),
	}
}
