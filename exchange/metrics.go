package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the exchange's prometheus collectors.
type Metrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	ticksCrossed prometheus.Counter
	pools        prometheus.Gauge
}

// NewMetrics registers the exchange's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clmm",
			Subsystem: "exchange",
			Name:      "operations_total",
			Help:      "Exchange operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clmm",
			Subsystem: "exchange",
			Name:      "operation_duration_seconds",
			Help:      "Time spent executing an operation, including lock wait.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 18),
		}, []string{"operation"}),
		ticksCrossed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clmm",
			Subsystem: "exchange",
			Name:      "ticks_crossed_total",
			Help:      "Initialized ticks crossed by committed swaps.",
		}),
		pools: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "clmm",
			Subsystem: "exchange",
			Name:      "pools",
			Help:      "Number of pools created.",
		}),
	}
}

func (m *Metrics) observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}
