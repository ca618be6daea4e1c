// Package ops provides a non-blocking, sampled audit path for rejected clock
// attempts. Track never blocks the caller and never returns an error; events
// that cannot be buffered are dropped and counted.
package ops

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	audit "rotaclock/pkg/platform/audit"
	"rotaclock/pkg/platform/audit/worker"
)

const defaultBufferSize = 256

// Tracker buffers ops events and persists them from a background worker.
type Tracker struct {
	inbox   chan audit.Event
	sampler *Sampler
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

type Option func(*trackerConfig)

type trackerConfig struct {
	buffer  int
	sampler *Sampler
	metrics *Metrics
	logger  *zap.Logger
}

func WithBufferSize(n int) Option {
	return func(c *trackerConfig) {
		if n > 0 {
			c.buffer = n
		}
	}
}

func WithSampler(s *Sampler) Option {
	return func(c *trackerConfig) { c.sampler = s }
}

func WithMetrics(m *Metrics) Option {
	return func(c *trackerConfig) { c.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *trackerConfig) { c.logger = logger }
}

// NewTracker starts the background worker. Call Close to drain it.
func NewTracker(store audit.Store, opts ...Option) *Tracker {
	cfg := trackerConfig{buffer: defaultBufferSize, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &Tracker{
		inbox:   make(chan audit.Event, cfg.buffer),
		sampler: cfg.sampler,
		metrics: cfg.metrics,
		logger:  cfg.logger,
		now:     time.Now,
		done:    make(chan struct{}),
	}

	w := worker.NewWorker(store, t.inbox,
		worker.WithLogger(cfg.logger),
		worker.WithErrorHook(func(error) {
			if t.metrics != nil {
				t.metrics.PersistFailures.Inc()
			}
		}),
	)
	go func() {
		defer close(t.done)
		_ = w.Run(context.Background())
	}()
	return t
}

// Track queues event without blocking.
func (t *Tracker) Track(_ context.Context, event audit.OpsEvent) {
	if t.sampler != nil && !t.sampler.Keep(event.Reason) {
		if t.metrics != nil {
			t.metrics.Sampled.Inc()
		}
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = t.now()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.inbox <- event.ToEvent():
		if t.metrics != nil {
			t.metrics.Tracked.Inc()
		}
	default:
		if t.metrics != nil {
			t.metrics.Dropped.Inc()
		}
		t.logger.Debug("ops audit buffer full, dropping event",
			zap.String("student_id", event.StudentID),
			zap.String("reason", event.Reason),
		)
	}
}

// Close stops accepting events and waits until buffered ones are persisted
// or ctx expires.
func (t *Tracker) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.inbox)
		t.mu.Unlock()
	})
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
