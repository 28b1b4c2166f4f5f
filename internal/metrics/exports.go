package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		exportsTotal,
		exportRowsStreamed,
		exportDurationSeconds,
	)
}

var (
	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exports_total",
			Help: "Streaming exports by report kind and outcome (completed/failed/cancelled).",
		},
		[]string{"kind", "outcome"},
	)

	exportRowsStreamed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_rows_streamed_total",
			Help: "Rows written to export streams per report kind.",
		},
		[]string{"kind"},
	)

	exportDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "export_duration_seconds",
			Help:    "Streaming export duration from first page to terminal outcome.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 180},
		},
		[]string{"kind"},
	)
)

// ObserveExport records one finished export run.
func ObserveExport(kind, outcome string, rows int, seconds float64) {
	exportsTotal.WithLabelValues(kind, outcome).Inc()
	exportRowsStreamed.WithLabelValues(kind).Add(float64(rows))
	exportDurationSeconds.WithLabelValues(kind).Observe(seconds)
}
