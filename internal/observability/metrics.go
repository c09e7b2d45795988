// Package observability registers the service's Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_gateway_requests_total",
			Help: "Total LLM gateway round-trips.",
		},
		[]string{"model", "outcome"},
	)

	toolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_tool_executions_total",
			Help: "Total tool invocations dispatched by the loop.",
		},
		[]string{"tool", "outcome"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_runs_total",
			Help: "Total assistant runs by terminal status.",
		},
		[]string{"status"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_run_duration_seconds",
			Help:    "End-to-end assistant run latency.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		gatewayRequestsTotal,
		toolExecutionsTotal,
		runsTotal,
		runDurationSeconds,
		httpRequestDurationSeconds,
	)
}

func ObserveGatewayRequest(model string, err error) {
	gatewayRequestsTotal.WithLabelValues(model, outcome(err)).Inc()
}

func ObserveToolExecution(tool string, err error) {
	toolExecutionsTotal.WithLabelValues(tool, outcome(err)).Inc()
}

func ObserveRun(status string, duration time.Duration) {
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestDurationSeconds.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
