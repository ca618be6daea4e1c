package ops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for ops audit tracking.
type Metrics struct {
	Tracked         prometheus.Counter
	Sampled         prometheus.Counter
	Dropped         prometheus.Counter
	PersistFailures prometheus.Counter
}

// NewMetrics registers ops audit metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Tracked: f.NewCounter(prometheus.CounterOpts{
			Name: "rotaclock_audit_ops_tracked_total",
			Help: "Total number of rejection audit events queued for persistence",
		}),
		Sampled: f.NewCounter(prometheus.CounterOpts{
			Name: "rotaclock_audit_ops_sampled_total",
			Help: "Total number of rejection audit events dropped due to sampling",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "rotaclock_audit_ops_dropped_total",
			Help: "Total number of rejection audit events dropped because the buffer was full",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "rotaclock_audit_ops_persist_failures_total",
			Help: "Total number of rejection audit event persistence failures",
		}),
	}
}
