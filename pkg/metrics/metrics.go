// Package metrics holds the prometheus collectors for the admission core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AdmissionVerdicts counts admission decisions by endpoint class, tier and result
// (admitted, delayed, denied, bypassed, failed_open).
var AdmissionVerdicts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gamehub",
		Subsystem: "admission",
		Name:      "verdicts_total",
		Help:      "Total number of admission verdicts",
	},
	[]string{"class", "tier", "result"},
)

// AdmissionLatency records how long the admission decision itself took,
// excluding any enforced delay.
var AdmissionLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "gamehub",
		Subsystem: "admission",
		Name:      "decision_duration_seconds",
		Help:      "Time spent deciding whether to admit a request",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	},
)

// DelayApplied records enforced slow-down durations.
var DelayApplied = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "gamehub",
		Subsystem: "admission",
		Name:      "delay_seconds",
		Help:      "Slow-down delay applied to admitted requests",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20},
	},
)

// StoreOperations counts backing-store operations by op and status.
var StoreOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gamehub",
		Subsystem: "admission_store",
		Name:      "operations_total",
		Help:      "Total number of backing store operations",
	},
	[]string{"op", "status"},
)

// DegradedMode is 1 while the quota ledger serves from its local approximation.
var DegradedMode = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "gamehub",
		Subsystem: "admission",
		Name:      "degraded_mode",
		Help:      "Whether the quota ledger is in degraded (local approximation) mode",
	},
)

// InFlightRequests gauges requests currently inside the middleware.
var InFlightRequests = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "gamehub",
		Subsystem: "admission",
		Name:      "in_flight_requests",
		Help:      "Number of requests currently being served",
	},
)

// ServiceLoad exposes the sampled service load used by the adaptive factor.
var ServiceLoad = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "gamehub",
		Subsystem: "admission",
		Name:      "service_load",
		Help:      "Sampled service load in [0,1]",
	},
)
