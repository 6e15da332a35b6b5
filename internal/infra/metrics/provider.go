package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(providerCallLatencyMs, providerRetriesTotal) }

var (
	providerCallLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_latency_ms",
			Help:    "Provider call latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"success"},
	)

	providerRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "provider_retries_total",
			Help: "Count of retried provider calls after transient failures.",
		},
	)
)

func ObserveProviderCall(latencyMs int, success bool) {
	providerCallLatencyMs.WithLabelValues(strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func IncProviderRetry() { providerRetriesTotal.Inc() }
