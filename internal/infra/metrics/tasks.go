package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(tasksTotal, taskRetriesTotal, dispatchLatency, dispatchFanout) }

var tasksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scheduler_tasks_total",
		Help: "Tasks reaching a terminal status (succeeded/failed/timed-out).",
	},
	[]string{"status"},
)

var taskRetriesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "scheduler_task_retries_total",
		Help: "Replacement tasks created for timed-out ones.",
	},
)

var dispatchLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "scheduler_dispatch_latency_ms",
		Help:    "Time to fan a job out to its worker set, in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	},
	[]string{"kind"},
)

var dispatchFanout = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "scheduler_dispatch_fanout",
		Help:    "Number of workers a job was split across.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	},
	[]string{"kind"},
)

func IncTask(status string) {
	tasksTotal.WithLabelValues(norm(status)).Inc()
}

func IncTaskRetry() {
	taskRetriesTotal.Inc()
}

func ObserveDispatch(kind string, workers int, d time.Duration) {
	dispatchLatency.WithLabelValues(norm(kind)).Observe(float64(d / time.Millisecond))
	dispatchFanout.WithLabelValues(norm(kind)).Observe(float64(workers))
}
