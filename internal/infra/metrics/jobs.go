package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsProcessedTotal, jobsInFlight) }

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_jobs_processed_total",
			Help: "Total number of generation jobs reaching a terminal state, labeled by status.",
		},
		[]string{"status"}, // 'completed', 'failed'
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_jobs_in_flight",
			Help: "Number of jobs currently dispatched and awaiting a provider outcome.",
		},
	)
)

func IncJobProcessed(status string) {
	jobsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func JobDispatched() { jobsInFlight.Inc() }
func JobSettled()    { jobsInFlight.Dec() }
