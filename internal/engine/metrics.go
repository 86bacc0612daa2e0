package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirage_generations_total",
			Help: "Total number of generation jobs by terminal status.",
		},
		[]string{"status"},
	)

	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mirage_generation_duration_seconds",
			Help:    "Duration of the synthesis stage, in seconds.",
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	pipelineLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mirage_pipeline_load_seconds",
			Help:    "Duration of pipeline handle construction, in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirage_active_jobs",
			Help: "Number of jobs currently executing.",
		},
	)
)

func init() {
	prometheus.MustRegister(generationsTotal)
	prometheus.MustRegister(generationDuration)
	prometheus.MustRegister(pipelineLoadDuration)
	prometheus.MustRegister(activeJobs)

	// Pre-initialize label combinations so they appear in /metrics at zero.
	for _, status := range []string{"completed", "failed", "cancelled"} {
		generationsTotal.WithLabelValues(status)
	}
}
