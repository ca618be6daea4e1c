// Package compliance provides a fail-closed audit publisher for accepted
// clock transitions.
//
// Emit is synchronous: the caller blocks until the store write succeeds. When
// the store is the PostgreSQL outbox and ctx carries the transition's
// transaction, the event commits or rolls back with the transition itself.
package compliance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	audit "rotaclock/pkg/platform/audit"
)

// Publisher emits compliance events with fail-closed semantics.
type Publisher struct {
	store   audit.Store
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New creates a compliance publisher.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit synchronously writes a compliance event. A returned error means the
// caller's operation must fail.
func (p *Publisher) Emit(ctx context.Context, event audit.ComplianceEvent) error {
	start := time.Now()

	if event.StudentID == "" {
		return fmt.Errorf("compliance event requires StudentID")
	}
	if event.Action == "" {
		return fmt.Errorf("compliance event requires Action")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}

	if err := p.store.Append(ctx, event.ToEvent()); err != nil {
		if p.metrics != nil {
			p.metrics.PersistFailures.Inc()
		}
		p.logger.Error("compliance audit failed",
			zap.String("action", event.Action),
			zap.String("student_id", event.StudentID),
			zap.String("record_id", event.RecordID),
			zap.Error(err),
		)
		return fmt.Errorf("compliance audit persistence failed: %w", err)
	}

	if p.metrics != nil {
		p.metrics.PersistDuration.Observe(time.Since(start).Seconds())
		p.metrics.EventsEmitted.Inc()
	}
	return nil
}

// Close is a no-op for the synchronous compliance publisher.
func (p *Publisher) Close() error {
	return nil
}
