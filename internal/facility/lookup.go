// Package facility resolves a coordinate to a facility name for record
// enrichment. Results never influence attendance decisions, so every failure
// mode degrades to a miss at the caller.
package facility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"rotaclock/internal/attendance/models"
	"rotaclock/pkg/platform/circuit"
	"rotaclock/pkg/platform/sentinel"
)

// Provider resolves a coordinate. A nil facility with a nil error is a miss.
type Provider interface {
	Lookup(ctx context.Context, coord models.Coordinate) (*models.Facility, error)
}

// Cache stores provider answers, misses included. found is false when the
// key is absent; a present key with a nil facility is a cached miss.
type Cache interface {
	Get(ctx context.Context, key string) (facility *models.Facility, found bool, err error)
	Set(ctx context.Context, key string, facility *models.Facility, ttl time.Duration) error
}

// ErrBreakerOpen is returned while the provider is considered down.
var ErrBreakerOpen = fmt.Errorf("facility provider circuit open: %w", sentinel.ErrUnavailable)

const defaultCacheTTL = 24 * time.Hour

// Lookup fronts a Provider with a cache, a circuit breaker and in-flight
// deduplication. Concurrent lookups for the same cache key share one
// provider call.
type Lookup struct {
	provider Provider
	cache    Cache
	breaker  *circuit.Breaker
	group    singleflight.Group
	ttl      time.Duration
	logger   *zap.Logger
	metrics  *Metrics
}

type Option func(*Lookup)

func WithCache(cache Cache, ttl time.Duration) Option {
	return func(l *Lookup) {
		l.cache = cache
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(l *Lookup) {
		l.breaker = b
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Lookup) {
		l.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(l *Lookup) {
		l.metrics = m
	}
}

func New(provider Provider, opts ...Option) *Lookup {
	l := &Lookup{
		provider: provider,
		breaker:  circuit.New("facility"),
		ttl:      defaultCacheTTL,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CacheKey buckets a coordinate to four decimal places, roughly 11 m.
func CacheKey(coord models.Coordinate) string {
	return fmt.Sprintf("facility:%.4f,%.4f", coord.Lat, coord.Lon)
}

// LookupFacility implements the enrichment collaborator used by the
// attendance service.
func (l *Lookup) LookupFacility(ctx context.Context, coord models.Coordinate) (*models.Facility, error) {
	key := CacheKey(coord)

	if l.cache != nil {
		facility, found, err := l.cache.Get(ctx, key)
		switch {
		case err != nil:
			l.logger.Warn("facility cache read failed", zap.String("key", key), zap.Error(err))
		case found:
			l.observeCache(true)
			l.observe("cached")
			return facility, nil
		}
		l.observeCache(false)
	}

	if !l.breaker.Allow() {
		l.observe("rejected")
		return nil, ErrBreakerOpen
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		return l.fetch(ctx, key, coord)
	})
	if err != nil {
		l.observe("error")
		return nil, err
	}
	facility, _ := v.(*models.Facility)
	if facility == nil {
		l.observe("miss")
		return nil, nil
	}
	l.observe("resolved")
	c := *facility
	return &c, nil
}

func (l *Lookup) fetch(ctx context.Context, key string, coord models.Coordinate) (*models.Facility, error) {
	started := time.Now()
	facility, err := l.provider.Lookup(ctx, coord)
	if l.metrics != nil {
		l.metrics.Latency.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if _, change := l.breaker.RecordFailure(); change.Opened {
			l.logger.Warn("facility provider breaker opened", zap.Error(err))
			l.setBreakerGauge(1)
		}
		return nil, fmt.Errorf("facility provider: %w", err)
	}
	if _, change := l.breaker.RecordSuccess(); change.Closed {
		l.logger.Info("facility provider breaker closed")
		l.setBreakerGauge(0)
	}

	if l.cache != nil {
		if err := l.cache.Set(ctx, key, facility, l.ttl); err != nil {
			l.logger.Warn("facility cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return facility, nil
}

func (l *Lookup) observe(result string) {
	if l.metrics != nil {
		l.metrics.Requests.WithLabelValues(result).Inc()
	}
}

func (l *Lookup) observeCache(hit bool) {
	if l.metrics == nil {
		return
	}
	if hit {
		l.metrics.CacheHits.Inc()
		return
	}
	l.metrics.CacheMisses.Inc()
}

func (l *Lookup) setBreakerGauge(v float64) {
	if l.metrics != nil {
		l.metrics.BreakerState.Set(v)
	}
}
