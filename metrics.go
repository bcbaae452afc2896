package mongoservice

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// serviceMetrics records operation outcomes. A nil *serviceMetrics is a no-op.
type serviceMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newServiceMetrics(reg prometheus.Registerer) *serviceMetrics {
	m := &serviceMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mongo_service",
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mongo_service",
			Name:      "operation_duration_seconds",
			Help:      "Time spent executing service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		m.operations = register(reg, m.operations)
		m.duration = register(reg, m.duration)
	}
	return m
}

// register returns the already registered collector when an identical one
// exists, so several platforms can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *serviceMetrics) observe(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	if elapsed > 0 {
		m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}
