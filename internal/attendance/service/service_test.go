package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"rotaclock/internal/attendance/geo"
	"rotaclock/internal/attendance/metrics"
	"rotaclock/internal/attendance/models"
	"rotaclock/internal/attendance/seal"
	"rotaclock/internal/attendance/store/catalog"
	"rotaclock/internal/attendance/store/record"
	dErrors "rotaclock/pkg/domain-errors"
	audit "rotaclock/pkg/platform/audit"
	"rotaclock/pkg/platform/audit/publishers/compliance"
	auditmemory "rotaclock/pkg/platform/audit/store/memory"
	"rotaclock/pkg/platform/sentinel"
	"rotaclock/pkg/requestcontext"
)

// =============================================================================
// Attendance Service Test Suite
// =============================================================================
// The service owns check ordering, the per-student transaction and the audit
// side effects, none of which the rules package sees. Tests run against the
// in-memory stores and the sharded transaction boundary.

const (
	studentID  = "stu-1"
	siteID     = "site-1"
	rotationID = "rot-1"
)

var siteLocation = models.Coordinate{Lat: 40.7128, Lon: -74.0060}

// 2025-03-03 is a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2025, 3, 3, hour, minute, 0, 0, time.UTC)
}

func onSite() *models.LocationCapture {
	c := siteLocation
	return &models.LocationCapture{Coordinate: &c, Source: "gps"}
}

func metersNorth(m float64) *models.LocationCapture {
	dLat := m / geo.EarthRadiusMeters * 180 / math.Pi
	return &models.LocationCapture{Coordinate: &models.Coordinate{Lat: siteLocation.Lat + dLat, Lon: siteLocation.Lon}}
}

func fixtureSite() models.ClinicalSite {
	loc := siteLocation
	return models.ClinicalSite{
		ID:                   siteID,
		Name:                 "Mercy General",
		Capacity:             3,
		AcceptedRequirements: []string{"BLS", "HIPAA"},
		Location:             &loc,
		RadiusMeters:         120,
		Rules: models.SiteRules{
			MaxShiftHours:    12,
			AllowOvernight:   true,
			GraceMinutes:     15,
			GeofenceRequired: true,
		},
		OperatingHours: models.OperatingHours{
			time.Monday:  {Open: models.MustTimeOfDay("07:00"), Close: models.MustTimeOfDay("19:00")},
			time.Tuesday: {Open: models.MustTimeOfDay("07:00"), Close: models.MustTimeOfDay("19:00")},
		},
		Slots: []models.RotationSlot{
			{Weekday: time.Monday, Start: models.MustTimeOfDay("07:00"), End: models.MustTimeOfDay("19:00"), MaxStudents: 4},
			{Weekday: time.Tuesday, Start: models.MustTimeOfDay("07:00"), End: models.MustTimeOfDay("19:00"), MaxStudents: 4},
		},
	}
}

type recordingTracker struct {
	mu     sync.Mutex
	events []audit.OpsEvent
}

func (t *recordingTracker) Track(_ context.Context, event audit.OpsEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *recordingTracker) reasons() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.events))
	for _, e := range t.events {
		out = append(out, e.Reason)
	}
	return out
}

type failingAuditStore struct{}

func (failingAuditStore) Append(context.Context, audit.Event) error {
	return errors.New("audit store offline")
}

type stubFacility struct {
	facility *models.Facility
	err      error
}

func (f stubFacility) LookupFacility(context.Context, models.Coordinate) (*models.Facility, error) {
	return f.facility, f.err
}

// blockingFacility holds each lookup until release is closed.
type blockingFacility struct {
	facility *models.Facility
	release  chan struct{}
}

func (f *blockingFacility) LookupFacility(ctx context.Context, _ models.Coordinate) (*models.Facility, error) {
	select {
	case <-f.release:
		return f.facility, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type AttendanceServiceSuite struct {
	suite.Suite
	catalog    *catalog.InMemoryStore
	records    *record.InMemoryStore
	auditStore *auditmemory.InMemoryStore
	tracker    *recordingTracker
	metrics    *metrics.Metrics
	sealer     *seal.Sealer
	service    *Service
}

func TestAttendanceServiceSuite(t *testing.T) {
	suite.Run(t, new(AttendanceServiceSuite))
}

func (s *AttendanceServiceSuite) SetupTest() {
	s.catalog = catalog.NewInMemory()
	s.records = record.NewInMemory()
	s.auditStore = auditmemory.NewInMemoryStore()
	s.tracker = &recordingTracker{}
	s.metrics = metrics.New(prometheus.NewRegistry())

	var err error
	s.sealer, err = seal.New([]byte("test-seal-key"))
	s.Require().NoError(err)

	s.catalog.PutSite(fixtureSite())
	s.catalog.PutProgram(models.Program{ID: "prog-1", Requirements: []string{"BLS", "HIPAA"}})
	s.catalog.PutStudent(models.Student{ID: studentID, ProgramID: "prog-1"})
	s.catalog.PutRotation(models.Rotation{
		ID:            rotationID,
		StudentID:     studentID,
		SiteID:        siteID,
		StartDate:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		RequiredHours: 40,
		Status:        models.RotationActive,
	})

	s.service = s.newService()
}

func (s *AttendanceServiceSuite) SetupSubTest() {
	s.SetupTest()
}

func (s *AttendanceServiceSuite) newService(opts ...Option) *Service {
	base := []Option{
		WithAuditPublisher(compliance.New(s.auditStore)),
		WithRejectionTracker(s.tracker),
		WithMetrics(s.metrics),
	}
	return New(s.catalog, s.records, NewShardedTx(s.records, s.catalog, 0), s.sealer, append(base, opts...)...)
}

func (s *AttendanceServiceSuite) clockIn(at time.Time) (*models.ClockRecord, error) {
	return s.service.ClockIn(context.Background(), ClockInRequest{
		StudentID: studentID,
		SiteID:    siteID,
		At:        at,
		Location:  onSite(),
	})
}

func (s *AttendanceServiceSuite) requireCode(err error, code dErrors.Code) *dErrors.Error {
	s.Require().Error(err)
	de, ok := dErrors.As(err)
	s.Require().True(ok, "expected a coded error, got %v", err)
	s.Require().Equal(code, de.Code, de.Message)
	return de
}

// =============================================================================
// ClockIn Tests
// =============================================================================

func (s *AttendanceServiceSuite) TestClockIn() {
	s.Run("opens a sealed record", func() {
		ctx := requestcontext.WithClientMetadata(context.Background(), "10.0.0.1",
			"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
		rec, err := s.service.ClockIn(ctx, ClockInRequest{
			StudentID: studentID, SiteID: siteID, At: monday(8, 0), Location: onSite(), Notes: "ED shift",
		})
		s.Require().NoError(err)

		s.Equal(models.RecordOpen, rec.Status)
		s.Equal(rotationID, rec.RotationID)
		s.Equal("2025-03-03", rec.Date)
		s.True(rec.ClockIn.Equal(monday(8, 0)))
		s.Require().NotNil(rec.Metadata.ClockIn)
		s.True(rec.Metadata.ClockIn.WithinGeofence)
		s.Contains(rec.Metadata.Device, "mobile")
		s.True(s.sealer.Verify(rec))

		stored, err := s.records.FindOpenRecord(context.Background(), studentID, "2025-03-03")
		s.Require().NoError(err)
		s.Equal(rec.ID, stored.ID)

		events, err := s.auditStore.ListByStudent(context.Background(), studentID)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventClockInAccepted), events[0].Action)
		s.Equal(rec.ID, events[0].RecordID)
		s.InDelta(1, testutil.ToFloat64(s.metrics.OpenRecords), 0)
	})

	s.Run("06:50 is accepted within grace", func() {
		_, err := s.clockIn(monday(6, 50))
		s.NoError(err)
	})

	s.Run("06:40 is outside the slot", func() {
		_, err := s.clockIn(monday(6, 40))
		s.requireCode(err, dErrors.CodeOutsideSlot)
	})

	s.Run("slot without operating hours is outside hours", func() {
		site := fixtureSite()
		site.Slots = append(site.Slots, models.RotationSlot{
			Weekday: time.Wednesday, Start: models.MustTimeOfDay("07:00"), End: models.MustTimeOfDay("19:00"),
		})
		s.catalog.PutSite(site)

		_, err := s.clockIn(monday(9, 0).AddDate(0, 0, 2))
		s.requireCode(err, dErrors.CodeOutsideHours)
	})

	s.Run("unknown site is outside hours", func() {
		_, err := s.service.ClockIn(context.Background(), ClockInRequest{
			StudentID: studentID, SiteID: "site-404", At: monday(8, 0), Location: onSite(),
		})
		de := s.requireCode(err, dErrors.CodeOutsideHours)
		s.Equal("site-404", de.Context["site_id"])
	})

	s.Run("no rotation regardless of time of day", func() {
		for _, hour := range []int{2, 6, 8, 12, 18, 23} {
			_, err := s.service.ClockIn(context.Background(), ClockInRequest{
				StudentID: "stu-without-rotation", SiteID: siteID, At: monday(hour, 0), Location: onSite(),
			})
			s.requireCode(err, dErrors.CodeNoRotation)
		}
	})

	s.Run("cancelled rotation does not count", func() {
		s.catalog.PutRotation(models.Rotation{
			ID: rotationID, StudentID: studentID, SiteID: siteID,
			StartDate: monday(0, 0), EndDate: monday(0, 0), Status: models.RotationCancelled,
		})
		_, err := s.clockIn(monday(8, 0))
		s.requireCode(err, dErrors.CodeNoRotation)
	})

	s.Run("200 m from a 120 m fence", func() {
		_, err := s.service.ClockIn(context.Background(), ClockInRequest{
			StudentID: studentID, SiteID: siteID, At: monday(8, 0), Location: metersNorth(200),
		})
		de := s.requireCode(err, dErrors.CodeGeofenceFail)
		s.InDelta(200, de.Context["distance_meters"], 0.5)
		s.Equal(120.0, de.Context["radius_meters"])
	})

	s.Run("missing coordinate fails a required geofence", func() {
		_, err := s.service.ClockIn(context.Background(), ClockInRequest{
			StudentID: studentID, SiteID: siteID, At: monday(8, 0),
		})
		de := s.requireCode(err, dErrors.CodeGeofenceFail)
		s.Equal("location unavailable", de.Context["reason"])
	})

	s.Run("missing coordinate is fine when geofence is optional", func() {
		site := fixtureSite()
		site.Rules.GeofenceRequired = false
		s.catalog.PutSite(site)

		rec, err := s.service.ClockIn(context.Background(), ClockInRequest{
			StudentID: studentID, SiteID: siteID, At: monday(8, 0),
		})
		s.Require().NoError(err)
		s.True(rec.Metadata.ClockIn.WithinGeofence)
		s.Nil(rec.Metadata.ClockIn.DistanceMeters)
	})

	s.Run("second clock-in on the same date is a duplicate", func() {
		first, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)

		_, err = s.clockIn(monday(9, 0))
		de := s.requireCode(err, dErrors.CodeDuplicateOpen)
		s.Equal(first.ID, de.Context["record_id"])
	})

	s.Run("site zone decides the calendar date", func() {
		site := fixtureSite()
		site.TimeZone = "America/New_York"
		s.catalog.PutSite(site)

		// 13:00 UTC is 08:00 in New York on the same Monday.
		rec, err := s.clockIn(monday(13, 0))
		s.Require().NoError(err)
		s.Equal("2025-03-03", rec.Date)

		_, err = s.clockIn(monday(8, 0))
		s.requireCode(err, dErrors.CodeOutsideSlot)
	})

	s.Run("rejects malformed requests", func() {
		_, err := s.service.ClockIn(context.Background(), ClockInRequest{SiteID: siteID, At: monday(8, 0)})
		s.requireCode(err, dErrors.CodeBadRequest)

		_, err = s.service.ClockIn(context.Background(), ClockInRequest{StudentID: studentID, At: monday(8, 0)})
		s.requireCode(err, dErrors.CodeBadRequest)

		_, err = s.service.ClockIn(context.Background(), ClockInRequest{StudentID: studentID, SiteID: siteID})
		s.requireCode(err, dErrors.CodeBadRequest)

		_, err = s.service.ClockIn(context.Background(), ClockInRequest{
			StudentID: studentID, SiteID: siteID, At: monday(8, 0),
			Location: &models.LocationCapture{Coordinate: &models.Coordinate{Lat: 91, Lon: 0}},
		})
		s.requireCode(err, dErrors.CodeBadRequest)
	})

	s.Run("rejections are tracked but request errors are not", func() {
		_, _ = s.clockIn(monday(6, 40))
		_, _ = s.service.ClockIn(context.Background(), ClockInRequest{SiteID: siteID, At: monday(8, 0)})

		s.Equal([]string{string(dErrors.CodeOutsideSlot)}, s.tracker.reasons())
		s.InDelta(1, testutil.ToFloat64(s.metrics.Attempts.WithLabelValues(metrics.OpClockIn, string(dErrors.CodeOutsideSlot))), 0)
	})

	s.Run("audit failure aborts the transition", func() {
		s.service = s.newService(WithAuditPublisher(compliance.New(failingAuditStore{})))

		_, err := s.clockIn(monday(8, 0))
		s.requireCode(err, dErrors.CodeUnavailable)

		_, err = s.records.FindOpenRecord(context.Background(), studentID, "2025-03-03")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("facility enrichment is attached after commit", func() {
		facility := &models.Facility{Name: "Mercy General", Address: "1 Main St", Confidence: 0.9}
		s.service = s.newService(WithFacilityLookup(stubFacility{facility: facility}, time.Second))

		rec, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)
		s.Require().NoError(s.service.Drain(context.Background()))

		stored, err := s.records.FindByID(context.Background(), rec.ID)
		s.Require().NoError(err)
		s.Require().NotNil(stored.Metadata.Facility)
		s.Equal("Mercy General", stored.Metadata.Facility.Name)
		s.True(s.sealer.Verify(stored), "enrichment is outside the seal")
	})

	s.Run("facility failure never fails the clock-in", func() {
		s.service = s.newService(WithFacilityLookup(stubFacility{err: errors.New("geocoder down")}, time.Second))

		rec, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)
		s.Require().NoError(s.service.Drain(context.Background()))

		stored, err := s.records.FindByID(context.Background(), rec.ID)
		s.Require().NoError(err)
		s.Nil(stored.Metadata.Facility)
	})

	s.Run("clock-in does not wait for the facility lookup", func() {
		release := make(chan struct{})
		slow := &blockingFacility{
			facility: &models.Facility{Name: "Mercy General"},
			release:  release,
		}
		s.service = s.newService(WithFacilityLookup(slow, 5*time.Second))

		rec, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)
		s.Nil(rec.Metadata.Facility)

		stored, err := s.records.FindByID(context.Background(), rec.ID)
		s.Require().NoError(err)
		s.Nil(stored.Metadata.Facility, "lookup still pending")

		close(release)
		s.Require().NoError(s.service.Drain(context.Background()))
		stored, err = s.records.FindByID(context.Background(), rec.ID)
		s.Require().NoError(err)
		s.Require().NotNil(stored.Metadata.Facility)
		s.Equal("Mercy General", stored.Metadata.Facility.Name)
	})

	s.Run("drain gives up when its context ends", func() {
		release := make(chan struct{})
		defer close(release)
		s.service = s.newService(WithFacilityLookup(&blockingFacility{release: release}, 5*time.Second))

		_, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		s.ErrorIs(s.service.Drain(ctx), context.DeadlineExceeded)
	})
}

func (s *AttendanceServiceSuite) TestClockInRace() {
	const attempts = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  int
		duplicate int
	)
	start := make(chan struct{})
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.clockIn(monday(8, i%30))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case dErrors.HasCode(err, dErrors.CodeDuplicateOpen):
				duplicate++
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(1, accepted)
	s.Equal(attempts-1, duplicate)

	open, err := s.records.ListOpenByStudent(context.Background(), studentID)
	s.Require().NoError(err)
	s.Len(open, 1)
}

// =============================================================================
// ClockOut Tests
// =============================================================================

func (s *AttendanceServiceSuite) TestClockOut() {
	ctx := context.Background()

	s.Run("closes the open record and credits hours", func() {
		opened, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)

		rec, err := s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(16, 30), Location: onSite()})
		s.Require().NoError(err)

		s.Equal(opened.ID, rec.ID)
		s.Equal(models.RecordClosed, rec.Status)
		s.Require().NotNil(rec.TotalHours)
		s.Equal(8.5, *rec.TotalHours)
		s.True(rec.ClockOut.After(*rec.ClockIn))
		s.True(s.sealer.Verify(rec))

		student, err := s.catalog.FindStudent(ctx, studentID)
		s.Require().NoError(err)
		s.Equal(8.5, student.CompletedHours)

		_, err = s.records.FindOpenRecord(ctx, studentID, "2025-03-03")
		s.ErrorIs(err, sentinel.ErrNotFound)

		events, err := s.auditStore.ListByStudent(ctx, studentID)
		s.Require().NoError(err)
		s.Require().Len(events, 2)
		s.Equal(string(audit.EventClockOutAccepted), events[1].Action)
		s.InDelta(8.5, testutil.ToFloat64(s.metrics.HoursLogged), 0.0001)
	})

	s.Run("rounds total hours half up", func() {
		_, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)

		// 8h 20m 30s is 8.341666... hours.
		rec, err := s.service.ClockOut(ctx, ClockOutRequest{
			StudentID: studentID, At: monday(16, 20).Add(30 * time.Second), Location: onSite(),
		})
		s.Require().NoError(err)
		s.Equal(8.34, *rec.TotalHours)
	})

	s.Run("nothing to close", func() {
		_, err := s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(16, 0)})
		s.requireCode(err, dErrors.CodeNoOpenRecord)
	})

	s.Run("second clock-out finds nothing open", func() {
		_, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)
		_, err = s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(12, 0)})
		s.Require().NoError(err)

		_, err = s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(12, 5)})
		s.requireCode(err, dErrors.CodeNoOpenRecord)
	})

	s.Run("clock-out before clock-in", func() {
		_, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)

		_, err = s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(7, 0)})
		s.requireCode(err, dErrors.CodeInvalidTimeOrder)

		_, err = s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(8, 0)})
		s.requireCode(err, dErrors.CodeInvalidTimeOrder)
	})

	s.Run("a few seconds is too short to credit", func() {
		_, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)

		_, err = s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(8, 0).Add(10 * time.Second)})
		s.requireCode(err, dErrors.CodeInvalidTimeOrder)
	})

	s.Run("37 h shift is too long when overnight is allowed", func() {
		_, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)

		_, err = s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(21, 0).AddDate(0, 0, 1)})
		de := s.requireCode(err, dErrors.CodeShiftTooLong)
		s.Equal(37.0, de.Context["hours"])
		s.Equal(12.0, de.Context["max_hours"])
	})

	s.Run("37 h shift is overnight when overnight is disallowed", func() {
		_, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)

		site := fixtureSite()
		site.Rules.AllowOvernight = false
		s.catalog.PutSite(site)

		_, err = s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(21, 0).AddDate(0, 0, 1)})
		s.requireCode(err, dErrors.CodeOvernightNotAllowed)
	})

	s.Run("overnight shift closes the previous day's record", func() {
		site := fixtureSite()
		site.OperatingHours[time.Monday] = models.DailyWindow{Open: models.MustTimeOfDay("07:00"), Close: models.MustTimeOfDay("23:00")}
		site.Slots[0].End = models.MustTimeOfDay("23:00")
		s.catalog.PutSite(site)

		opened, err := s.clockIn(monday(20, 0))
		s.Require().NoError(err)

		rec, err := s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(4, 0).AddDate(0, 0, 1)})
		s.Require().NoError(err)
		s.Equal(opened.ID, rec.ID)
		s.Equal(8.0, *rec.TotalHours)
		s.Equal("2025-03-03", rec.Date)
	})

	s.Run("geofence at clock-out is advisory by default", func() {
		_, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)

		rec, err := s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(16, 0), Location: metersNorth(500)})
		s.Require().NoError(err)
		s.Require().NotNil(rec.Metadata.ClockOut)
		s.False(rec.Metadata.ClockOut.WithinGeofence)
		s.Require().NotNil(rec.Metadata.ClockOut.DistanceMeters)
		s.InDelta(500, *rec.Metadata.ClockOut.DistanceMeters, 1)
	})

	s.Run("geofence at clock-out blocks when the site requires it", func() {
		_, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)

		site := fixtureSite()
		site.Rules.GeofenceOnClockOut = true
		s.catalog.PutSite(site)

		_, err = s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(16, 0), Location: metersNorth(500)})
		s.requireCode(err, dErrors.CodeGeofenceFail)

		_, err = s.records.FindOpenRecord(ctx, studentID, "2025-03-03")
		s.NoError(err, "record stays open after a rejected clock-out")
	})

	s.Run("rotation that no longer resolves is invalid state", func() {
		clockIn := monday(8, 0)
		orphan := &models.ClockRecord{
			ID: "rec-orphan", StudentID: studentID, RotationID: "rot-gone", SiteID: siteID,
			Date: "2025-03-03", ClockIn: &clockIn, Status: models.RecordOpen,
		}
		orphan.Seal = s.sealer.Seal(orphan)
		s.Require().NoError(s.records.InsertIfAbsent(ctx, orphan))

		_, err := s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(16, 0)})
		s.requireCode(err, dErrors.CodeInvalidState)
	})

	s.Run("site that no longer resolves is invalid state", func() {
		clockIn := monday(8, 0)
		orphan := &models.ClockRecord{
			ID: "rec-orphan", StudentID: studentID, RotationID: rotationID, SiteID: "site-gone",
			Date: "2025-03-03", ClockIn: &clockIn, Status: models.RecordOpen,
		}
		orphan.Seal = s.sealer.Seal(orphan)
		s.Require().NoError(s.records.InsertIfAbsent(ctx, orphan))

		_, err := s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(16, 0)})
		s.requireCode(err, dErrors.CodeInvalidState)
	})

	s.Run("tampered record fails its integrity check", func() {
		opened, err := s.clockIn(monday(8, 0))
		s.Require().NoError(err)

		tampered := opened.Clone()
		earlier := monday(7, 0)
		tampered.ClockIn = &earlier
		s.Require().NoError(s.records.Update(ctx, tampered))

		_, err = s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(16, 0)})
		s.requireCode(err, dErrors.CodeInvalidState)
		s.InDelta(1, testutil.ToFloat64(s.metrics.SealFailures), 0)
	})

	s.Run("student missing from the catalog still closes", func() {
		s.catalog.PutRotation(models.Rotation{
			ID: "rot-2", StudentID: "stu-2", SiteID: siteID,
			StartDate: monday(0, 0), EndDate: monday(0, 0), Status: models.RotationActive,
		})
		_, err := s.service.ClockIn(ctx, ClockInRequest{StudentID: "stu-2", SiteID: siteID, At: monday(8, 0), Location: onSite()})
		s.Require().NoError(err)

		rec, err := s.service.ClockOut(ctx, ClockOutRequest{StudentID: "stu-2", At: monday(10, 0)})
		s.Require().NoError(err)
		s.Equal(2.0, *rec.TotalHours)
	})
}

// =============================================================================
// Report Tests
// =============================================================================

func (s *AttendanceServiceSuite) seedWeek() {
	ctx := context.Background()
	for day, shift := range [][2]int{{8, 16}, {9, 14}} {
		at := monday(shift[0], 0).AddDate(0, 0, day)
		_, err := s.clockIn(at)
		s.Require().NoError(err)
		_, err = s.service.ClockOut(ctx, ClockOutRequest{StudentID: studentID, At: monday(shift[1], 15).AddDate(0, 0, day)})
		s.Require().NoError(err)
	}
	// Still open on the following Monday.
	_, err := s.clockIn(monday(8, 0).AddDate(0, 0, 7))
	s.Require().NoError(err)
}

func (s *AttendanceServiceSuite) TestReport() {
	ctx := context.Background()
	from := monday(0, 0)
	to := monday(0, 0).AddDate(0, 0, 14)

	s.Run("lists records in clock-in order and totals closed ones", func() {
		s.seedWeek()

		report, err := s.service.Report(ctx, studentID, from, to)
		s.Require().NoError(err)
		s.Require().Len(report.Records, 3)
		s.Equal(13.5, report.TotalHours)

		s.Equal("2025-03-03", report.Records[0].Date)
		s.Equal("2025-03-04", report.Records[1].Date)
		s.Equal("2025-03-10", report.Records[2].Date)
		s.Equal(models.RecordOpen, report.Records[2].Status)
		for _, r := range report.Records {
			s.True(r.SealValid)
		}
	})

	s.Run("range bounds are inclusive", func() {
		s.seedWeek()

		report, err := s.service.Report(ctx, studentID, monday(8, 0), monday(9, 0).AddDate(0, 0, 1))
		s.Require().NoError(err)
		s.Len(report.Records, 2)
		s.Equal(13.5, report.TotalHours)
	})

	s.Run("omitted bounds are open", func() {
		s.seedWeek()

		report, err := s.service.Report(ctx, studentID, time.Time{}, time.Time{})
		s.Require().NoError(err)
		s.Len(report.Records, 3)
		s.Equal(13.5, report.TotalHours)

		onlyFrom, err := s.service.Report(ctx, studentID, monday(8, 0).AddDate(0, 0, 1), time.Time{})
		s.Require().NoError(err)
		s.Require().Len(onlyFrom.Records, 2)
		s.Equal("2025-03-04", onlyFrom.Records[0].Date)

		onlyTo, err := s.service.Report(ctx, studentID, time.Time{}, monday(23, 0))
		s.Require().NoError(err)
		s.Require().Len(onlyTo.Records, 1)
		s.Equal("2025-03-03", onlyTo.Records[0].Date)
	})

	s.Run("repeatable", func() {
		s.seedWeek()

		first, err := s.service.Report(ctx, studentID, from, to)
		s.Require().NoError(err)
		second, err := s.service.Report(ctx, studentID, from, to)
		s.Require().NoError(err)
		s.Equal(first, second)
	})

	s.Run("flags records whose seal no longer matches", func() {
		s.seedWeek()
		open, err := s.records.ListOpenByStudent(ctx, studentID)
		s.Require().NoError(err)
		s.Require().Len(open, 1)
		tampered := open[0].Clone()
		tampered.SiteID = "site-elsewhere"
		s.Require().NoError(s.records.Update(ctx, tampered))

		report, err := s.service.Report(ctx, studentID, from, to)
		s.Require().NoError(err)
		s.False(report.Records[2].SealValid)
		s.True(report.Records[0].SealValid)
	})

	s.Run("empty student has an empty report", func() {
		report, err := s.service.Report(ctx, "stu-none", from, to)
		s.Require().NoError(err)
		s.Empty(report.Records)
		s.Zero(report.TotalHours)
	})

	s.Run("rejects an inverted range", func() {
		_, err := s.service.Report(ctx, studentID, to, from)
		s.requireCode(err, dErrors.CodeBadRequest)
	})
}

func (s *AttendanceServiceSuite) TestRotationProgress() {
	ctx := context.Background()

	s.Run("sums closed records against the requirement", func() {
		s.seedWeek()

		progress, err := s.service.RotationProgress(ctx, rotationID)
		s.Require().NoError(err)
		s.Equal(40.0, progress.RequiredHours)
		s.Equal(13.5, progress.CompletedHours)
		s.Equal(26.5, progress.RemainingHours)
		s.Equal(33.8, progress.PercentDone)
		s.Equal(1, progress.OpenRecords)
	})

	s.Run("caps at one hundred percent", func() {
		s.catalog.PutRotation(models.Rotation{
			ID: rotationID, StudentID: studentID, SiteID: siteID,
			StartDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
			Status:    models.RotationActive, RequiredHours: 4,
		})
		s.seedWeek()

		progress, err := s.service.RotationProgress(ctx, rotationID)
		s.Require().NoError(err)
		s.Equal(100.0, progress.PercentDone)
		s.Zero(progress.RemainingHours)
	})

	s.Run("unknown rotation", func() {
		_, err := s.service.RotationProgress(ctx, "rot-404")
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

// =============================================================================
// Eligibility and Lookup Tests
// =============================================================================

func (s *AttendanceServiceSuite) TestCheckEligibility() {
	ctx := context.Background()

	s.Run("eligible student", func() {
		got, err := s.service.CheckEligibility(ctx, studentID, siteID)
		s.Require().NoError(err)
		s.True(got.Eligible)
		s.Empty(got.Reasons)
	})

	s.Run("reports every reason", func() {
		s.catalog.PutProgram(models.Program{ID: "prog-1", Requirements: []string{"BLS", "ACLS"}})
		for i := range 3 {
			s.catalog.PutRotation(models.Rotation{
				ID: fmt.Sprintf("rot-other-%d", i), StudentID: fmt.Sprintf("stu-other-%d", i), SiteID: siteID,
				Status: models.RotationScheduled,
			})
		}

		got, err := s.service.CheckEligibility(ctx, studentID, siteID)
		s.Require().NoError(err)
		s.False(got.Eligible)
		s.Len(got.Reasons, 2)
	})

	s.Run("student without a program is ineligible", func() {
		got, err := s.service.CheckEligibility(ctx, "stu-unknown", siteID)
		s.Require().NoError(err)
		s.False(got.Eligible)
	})

	s.Run("unknown site", func() {
		_, err := s.service.CheckEligibility(ctx, studentID, "site-404")
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("redundant calls agree", func() {
		first, err := s.service.CheckEligibility(ctx, studentID, siteID)
		s.Require().NoError(err)
		second, err := s.service.CheckEligibility(ctx, studentID, siteID)
		s.Require().NoError(err)
		s.Equal(first, second)
	})
}

func (s *AttendanceServiceSuite) TestFindActiveRotation() {
	ctx := context.Background()

	s.Run("finds the rotation covering the date", func() {
		rotation, err := s.service.FindActiveRotation(ctx, studentID, siteID, monday(3, 0))
		s.Require().NoError(err)
		s.Equal(rotationID, rotation.ID)
	})

	s.Run("outside the date range", func() {
		_, err := s.service.FindActiveRotation(ctx, studentID, siteID, monday(8, 0).AddDate(0, 1, 0))
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("prefers active over scheduled", func() {
		s.catalog.PutRotation(models.Rotation{
			ID: "rot-0", StudentID: studentID, SiteID: siteID,
			StartDate: monday(0, 0), EndDate: monday(0, 0),
			Status: models.RotationScheduled, CreatedAt: monday(12, 0),
		})
		rotation, err := s.service.FindActiveRotation(ctx, studentID, siteID, monday(8, 0))
		s.Require().NoError(err)
		s.Equal(rotationID, rotation.ID)
	})
}
