// Package metrics provides Prometheus metrics for the engine bridge. It
// covers the call protocol only: train/infer call counts, failures, call
// latency, and the encoded payload volume crossing the boundary.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	TrainCalls     prometheus.Counter   // Total train calls sent to the engine
	InferCalls     prometheus.Counter   // Total infer calls sent to the engine
	BridgeFailures prometheus.Counter   // Total failed bridge calls
	TrainLatency   prometheus.Histogram // Train call latency in seconds
	InferLatency   prometheus.Histogram // Infer call latency in seconds
	PayloadBytes   prometheus.Counter   // Total encoded bytes sent across the bridge
	ModelAge       prometheus.Gauge     // Seconds since the current model was trained
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		TrainCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_train_calls_total",
			Help: "Total train calls sent to the engine",
		}),
		InferCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_infer_calls_total",
			Help: "Total infer calls sent to the engine",
		}),
		BridgeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_failures_total",
			Help: "Total failed bridge calls",
		}),
		TrainLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_train_latency_seconds",
			Help:    "Train call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		InferLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_infer_latency_seconds",
			Help:    "Infer call latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		PayloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_payload_bytes_total",
			Help: "Total encoded bytes sent across the bridge",
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_model_age_seconds",
			Help: "Seconds since the current model was trained",
		}),
	}
}
