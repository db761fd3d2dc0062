package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsTotal, droppedResultsTotal) }

var jobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scheduler_jobs_total",
		Help: "Job status transitions, labeled by the status entered.",
	},
	[]string{"status"},
)

var droppedResultsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scheduler_dropped_results_total",
		Help: "Late or unmatchable result notifications discarded by the collector.",
	},
	[]string{"reason"},
)

func IncJob(status string) {
	jobsTotal.WithLabelValues(norm(status)).Inc()
}

func IncDroppedResult(reason string) {
	droppedResultsTotal.WithLabelValues(norm(reason)).Inc()
}
