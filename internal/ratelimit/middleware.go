package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	dErrors "rotaclock/pkg/domain-errors"
	"rotaclock/pkg/platform/httputil"
	"rotaclock/pkg/requestcontext"
)

type Metrics struct {
	Decisions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "rotaclock_ratelimit_decisions_total",
			Help: "Rate limit decisions by bucket and result",
		}, []string{"bucket", "result"}),
	}
}

// Middleware applies per-caller limits to a group of routes.
type Middleware struct {
	store   Store
	logger  *zap.Logger
	metrics *Metrics
}

type Option func(*Middleware)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Middleware) { m.logger = logger }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Middleware) { m.metrics = metrics }
}

func New(store Store, opts ...Option) *Middleware {
	m := &Middleware{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limit admits at most limit requests per window for each caller in bucket.
// Authenticated callers are keyed by subject, anonymous ones by client IP.
// A failing store lets the request through.
func (m *Middleware) Limit(bucket string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := bucket + ":" + callerKey(r)

			res, err := m.store.Allow(ctx, key, limit, window)
			if err != nil {
				m.logger.Warn("rate limit check failed; allowing request",
					zap.String("bucket", bucket),
					zap.Error(err),
				)
				m.observe(bucket, "error")
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				retry := max(int(time.Until(res.ResetAt).Seconds()+0.5), 1)
				h.Set("Retry-After", strconv.Itoa(retry))
				m.observe(bucket, "limited")
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests").
					With("retry_after_seconds", retry))
				return
			}
			m.observe(bucket, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) observe(bucket, result string) {
	if m.metrics != nil {
		m.metrics.Decisions.WithLabelValues(bucket, result).Inc()
	}
}

func callerKey(r *http.Request) string {
	if subject := requestcontext.Subject(r.Context()); subject != "" {
		return "sub:" + subject
	}
	if ip := requestcontext.ClientIP(r.Context()); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + r.RemoteAddr
}
