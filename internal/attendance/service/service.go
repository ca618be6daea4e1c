// Package service is the attendance verification engine. It decides whether
// clock events are legitimate and drives the per-student record state
// machine inside a transactional boundary.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"rotaclock/internal/attendance/metrics"
	"rotaclock/internal/attendance/models"
	"rotaclock/internal/attendance/seal"
	audit "rotaclock/pkg/platform/audit"
)

// Catalog reads the reference data decisions are made against.
type Catalog interface {
	FindSite(ctx context.Context, id string) (*models.ClinicalSite, error)
	FindProgram(ctx context.Context, id string) (*models.Program, error)
	FindStudent(ctx context.Context, id string) (*models.Student, error)
	FindRotation(ctx context.Context, id string) (*models.Rotation, error)
	ListRotations(ctx context.Context, studentID, siteID string) ([]*models.Rotation, error)
	CountRotationsAtSite(ctx context.Context, siteID string) (int, error)
}

// RecordStore persists clock records. InsertIfAbsent and Update are
// conditional writes: they return sentinel.ErrAlreadyUsed and
// sentinel.ErrInvalidState when the open-record slot is taken or the record
// is no longer open.
type RecordStore interface {
	FindOpenRecord(ctx context.Context, studentID, date string) (*models.ClockRecord, error)
	ListOpenByStudent(ctx context.Context, studentID string) ([]*models.ClockRecord, error)
	InsertIfAbsent(ctx context.Context, rec *models.ClockRecord) error
	Update(ctx context.Context, rec *models.ClockRecord) error
	FindByID(ctx context.Context, id string) (*models.ClockRecord, error)
	ListByStudent(ctx context.Context, studentID string) ([]*models.ClockRecord, error)
	ListByRotation(ctx context.Context, rotationID string) ([]*models.ClockRecord, error)
	SetFacility(ctx context.Context, id string, facility *models.Facility) error
}

// StudentCounter maintains the cumulative completed-hours counter.
type StudentCounter interface {
	AddCompletedHours(ctx context.Context, studentID string, hours float64) error
}

// AuditPublisher records accepted transitions. A failure aborts the
// transition it belongs to.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// RejectionTracker records rejected attempts without blocking.
type RejectionTracker interface {
	Track(ctx context.Context, event audit.OpsEvent)
}

// FacilityLookup reverse-geocodes a coordinate. A nil facility with a nil
// error is a miss.
type FacilityLookup interface {
	LookupFacility(ctx context.Context, coord models.Coordinate) (*models.Facility, error)
}

const defaultFacilityTimeout = 2 * time.Second

// Service orchestrates eligibility, window, geofence and duration checks
// around the clock record state machine.
type Service struct {
	catalog Catalog
	records RecordStore
	tx      AttendanceStoreTx
	sealer  *seal.Sealer

	auditPublisher  AuditPublisher
	rejections      RejectionTracker
	facility        FacilityLookup
	facilityTimeout time.Duration
	enrichments     sync.WaitGroup

	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	newID   func() string
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithRejectionTracker(tracker RejectionTracker) Option {
	return func(s *Service) {
		s.rejections = tracker
	}
}

// WithFacilityLookup enables post-commit facility enrichment bounded by
// timeout. A non-positive timeout keeps the default.
func WithFacilityLookup(lookup FacilityLookup, timeout time.Duration) Option {
	return func(s *Service) {
		s.facility = lookup
		if timeout > 0 {
			s.facilityTimeout = timeout
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// New constructs a Service.
func New(catalog Catalog, records RecordStore, tx AttendanceStoreTx, sealer *seal.Sealer, opts ...Option) *Service {
	s := &Service{
		catalog:         catalog,
		records:         records,
		tx:              tx,
		sealer:          sealer,
		facilityTimeout: defaultFacilityTimeout,
		logger:          zap.NewNop(),
		tracer:          otel.Tracer("rotaclock/attendance"),
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
