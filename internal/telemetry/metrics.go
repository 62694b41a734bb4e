// Package telemetry defines the gateway's Prometheus metrics and the
// registry that exposes them at /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks proxy request latency by route and outcome.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "flm",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

var RequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "flm",
		Subsystem: "requests",
		Name:      "total",
		Help:      "Total number of proxy requests by outcome.",
	},
	[]string{"outcome"}, // success, failed, rate_limited, blocked
)

var AuthAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "flm",
		Subsystem: "auth",
		Name:      "attempts_total",
		Help:      "Total number of API key authentication attempts by result.",
	},
	[]string{"result"}, // success, failure
)

var IntrusionsDetectedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "flm",
		Subsystem: "security",
		Name:      "intrusions_detected_total",
		Help:      "Total number of requests scored as intrusion attempts.",
	},
)

var AnomaliesDetectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "flm",
		Subsystem: "security",
		Name:      "anomalies_detected_total",
		Help:      "Total number of requests flagged as anomalous, by kind.",
	},
	[]string{"kind"},
)

var ActiveConnections = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "flm",
		Subsystem: "proxy",
		Name:      "active_connections",
		Help:      "Current number of in-flight proxied connections, including open streams.",
	},
)

var EngineHealthLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "flm",
		Subsystem: "engine",
		Name:      "health_check_latency_seconds",
		Help:      "Engine health check round-trip latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"engine_id", "engine_kind"},
)

// All returns every gateway-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		RequestsTotal,
		AuthAttemptsTotal,
		IntrusionsDetectedTotal,
		AnomaliesDetectedTotal,
		ActiveConnections,
		EngineHealthLatency,
	}
}

// NewRegistry creates a Prometheus registry with Go/process collectors and
// every gateway metric.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
