// Package metrics exposes Prometheus instruments for clock transitions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OpClockIn  = "clock_in"
	OpClockOut = "clock_out"
	OpReport   = "report"

	OutcomeAccepted = "accepted"
)

type Metrics struct {
	Attempts     *prometheus.CounterVec
	Latency      *prometheus.HistogramVec
	OpenRecords  prometheus.Gauge
	HoursLogged  prometheus.Counter
	SealFailures prometheus.Counter
}

// New registers the attendance metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rotaclock_clock_attempts_total",
			Help: "Clock transitions by operation and outcome (accepted or the rejection code)",
		}, []string{"operation", "outcome"}),
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rotaclock_clock_transition_duration_seconds",
			Help:    "Time spent deciding and committing a clock transition",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		OpenRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "rotaclock_open_records",
			Help: "Clock records opened minus closed since process start",
		}),
		HoursLogged: f.NewCounter(prometheus.CounterOpts{
			Name: "rotaclock_hours_logged_total",
			Help: "Total credited hours across closed records",
		}),
		SealFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "rotaclock_record_seal_failures_total",
			Help: "Records whose integrity seal did not verify when read",
		}),
	}
}

// Observe records one transition attempt.
func (m *Metrics) Observe(operation, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(operation, outcome).Inc()
	m.Latency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) RecordOpened() {
	if m == nil {
		return
	}
	m.OpenRecords.Inc()
}

func (m *Metrics) RecordClosed(hours float64) {
	if m == nil {
		return
	}
	m.OpenRecords.Dec()
	m.HoursLogged.Add(hours)
}

func (m *Metrics) SealMismatch() {
	if m == nil {
		return
	}
	m.SealFailures.Inc()
}
