// Package relay publishes outbox entries to Kafka. Delivery is at least once:
// an entry is marked published only after the broker acknowledges it, so a
// crash between produce and mark re-sends it. Consumers dedupe on the event
// id carried in the payload.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	audit "rotaclock/pkg/platform/audit"
)

const (
	defaultBatchSize = 100
	defaultInterval  = time.Second
)

// Outbox is the read/ack side of the outbox table.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]audit.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []string) error
}

// Producer is the subset of *kgo.Client used by the relay.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type Metrics struct {
	Published prometheus.Counter
	Failures  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "rotaclock_outbox_published_total",
			Help: "Total number of outbox entries published to Kafka",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Name: "rotaclock_outbox_publish_failures_total",
			Help: "Total number of failed outbox relay batches",
		}),
	}
}

// Relay polls the outbox and produces entries keyed by student id, which
// keeps each student's events ordered within a partition.
type Relay struct {
	outbox    Outbox
	producer  Producer
	topic     string
	batchSize int
	interval  time.Duration
	logger    *zap.Logger
	metrics   *Metrics
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func New(outbox Outbox, producer Producer, topic string, opts ...Option) *Relay {
	r := &Relay{
		outbox:    outbox,
		producer:  producer,
		topic:     topic,
		batchSize: defaultBatchSize,
		interval:  defaultInterval,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("outbox relay batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and returns how many entries were marked.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	entries, err := r.outbox.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	records := make([]*kgo.Record, 0, len(entries))
	ids := make(map[*kgo.Record]string, len(entries))
	for _, e := range entries {
		rec := &kgo.Record{
			Topic: r.topic,
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(e.EventType)},
				{Key: "outbox_id", Value: []byte(e.ID)},
			},
		}
		ids[rec] = e.ID
		records = append(records, rec)
	}

	results := r.producer.ProduceSync(ctx, records...)
	published := make([]string, 0, len(entries))
	var produceErr error
	// Results arrive in completion order, not submission order.
	for _, res := range results {
		if res.Err != nil {
			produceErr = errors.Join(produceErr, res.Err)
			continue
		}
		published = append(published, ids[res.Record])
	}

	if err := r.outbox.MarkPublished(ctx, published); err != nil {
		r.fail()
		return 0, fmt.Errorf("mark published: %w", err)
	}
	if r.metrics != nil {
		r.metrics.Published.Add(float64(len(published)))
	}
	if produceErr != nil {
		r.fail()
		return len(published), fmt.Errorf("produce: %w", produceErr)
	}
	return len(published), nil
}

func (r *Relay) fail() {
	if r.metrics != nil {
		r.metrics.Failures.Inc()
	}
}

// NewClient builds a franz-go client for the audit topic.
func NewClient(brokers []string, topic string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
}

// EnsureTopic creates topic if it does not exist.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	adm := kadm.NewClient(client)
	resps, err := adm.CreateTopics(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, resp := range resps {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}
