package differ

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the differ's prometheus collectors.
type Metrics struct {
	diffDuration         *prometheus.HistogramVec
	protocolDiffDuration *prometheus.HistogramVec
	diffErrors           *prometheus.CounterVec
}

// NewMetrics registers the differ's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		diffDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clmm",
			Subsystem: "differ",
			Name:      "diff_duration_seconds",
			Help:      "Time taken to diff two full states.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{}),
		protocolDiffDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clmm",
			Subsystem: "differ",
			Name:      "protocol_diff_duration_seconds",
			Help:      "Time taken to diff a single protocol's data.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"protocol"}),
		diffErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clmm",
			Subsystem: "differ",
			Name:      "errors_total",
			Help:      "Diffs that failed, by protocol.",
		}, []string{"protocol"}),
	}
}
