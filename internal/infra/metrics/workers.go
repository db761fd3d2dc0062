package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(workersConnected, aggregationsTotal) }

var workersConnected = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "scheduler_workers_connected",
		Help: "Workers currently registered and not heartbeat-expired.",
	},
)

var aggregationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scheduler_aggregations_total",
		Help: "Model state aggregation attempts by outcome.",
	},
	[]string{"outcome"},
)

func SetConnectedWorkers(n int) {
	workersConnected.Set(float64(n))
}

func IncAggregation(outcome string) {
	aggregationsTotal.WithLabelValues(norm(outcome)).Inc()
}
