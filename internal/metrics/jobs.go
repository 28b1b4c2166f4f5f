package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		extractionJobsTotal,
		extractionDurationSeconds,
	)
}

var (
	extractionJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_jobs_total",
			Help: "Extraction jobs by provider and terminal status (completed/failed).",
		},
		[]string{"provider", "status"},
	)

	extractionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extraction_duration_seconds",
			Help:    "Wall-clock extraction time from dispatch to terminal status.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider"},
	)
)

// ObserveExtraction records one finished extraction job.
func ObserveExtraction(provider, status string, seconds float64) {
	extractionJobsTotal.WithLabelValues(provider, status).Inc()
	extractionDurationSeconds.WithLabelValues(provider).Observe(seconds)
}
