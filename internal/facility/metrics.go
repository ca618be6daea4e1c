package facility

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Requests     *prometheus.CounterVec
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	Latency      prometheus.Histogram
	BreakerState prometheus.Gauge
}

// NewMetrics registers the facility lookup metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rotaclock_facility_lookups_total",
			Help: "Facility lookups by result (cached, resolved, miss, error, rejected)",
		}, []string{"result"}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "rotaclock_facility_cache_hits_total",
			Help: "Facility lookups served from cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "rotaclock_facility_cache_misses_total",
			Help: "Facility lookups that went to the provider",
		}),
		Latency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rotaclock_facility_provider_duration_seconds",
			Help:    "Provider latency for facility lookups",
			Buckets: prometheus.DefBuckets,
		}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "rotaclock_facility_breaker_open",
			Help: "1 while the facility provider circuit breaker is open",
		}),
	}
}
