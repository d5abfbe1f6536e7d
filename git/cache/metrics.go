package cache

import (
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "repocache"

type metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	network    *prometheus.CounterVec
	lockWait   prometheus.Histogram
}

// newMetrics creates the Manager's collectors. A nil registerer leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Cache operations by operation and result code.",
		}, []string{"operation", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of cache operations, including lock wait.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"operation"}),
		network: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "network_operations_total",
			Help:      "Clones and updates performed against remotes.",
		}, []string{"kind"}),
		lockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for repository locks.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}),
	}
}

// observe records the outcome of one operation started at start.
func (m *metrics) observe(operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = strings.ToLower(string(errors.GetCode(err)))
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
