// Package httpapi assembles the public HTTP surface: the attendance routes
// plus liveness, readiness and metrics endpoints.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rotaclock/pkg/platform/httputil"
)

// Registrar mounts a feature's routes.
type Registrar interface {
	Register(r chi.Router)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type routerConfig struct {
	gatherer prometheus.Gatherer
	checks   map[string]ReadinessCheck
}

type Option func(*routerConfig)

// WithMetrics exposes gatherer on /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(c *routerConfig) {
		c.gatherer = gatherer
	}
}

// WithReadinessCheck adds a named check to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(c *routerConfig) {
		c.checks[name] = check
	}
}

// NewRouter wires the operational endpoints and every feature registrar.
func NewRouter(features []Registrar, opts ...Option) http.Handler {
	cfg := &routerConfig{checks: map[string]ReadinessCheck{}}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/readyz", readiness(cfg.checks))
	if cfg.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}))
	}

	for _, f := range features {
		f.Register(r)
	}
	return r
}

func readiness(checks map[string]ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "failed": failed})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
