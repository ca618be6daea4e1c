//go:build integration

package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"rotaclock/internal/attendance/models"
	"rotaclock/internal/attendance/seal"
	"rotaclock/internal/attendance/service"
	"rotaclock/internal/attendance/store/catalog"
	"rotaclock/internal/attendance/store/record"
	dErrors "rotaclock/pkg/domain-errors"
	"rotaclock/pkg/platform/audit/publishers/compliance"
	auditpostgres "rotaclock/pkg/platform/audit/store/postgres"
	"rotaclock/pkg/testutil/containers"
)

type AttendanceTxSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	svc      *service.Service
	records  *record.PostgresStore
	catalog  *catalog.PostgresStore
}

func TestAttendanceTxSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AttendanceTxSuite))
}

var seedTime = time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)

func (s *AttendanceTxSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
}

func (s *AttendanceTxSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx,
		"outbox", "clock_records", "rotations", "students", "programs", "clinical_sites"))

	key := make([]byte, 32)
	cipher, err := record.NewCoordinateCipher(key)
	s.Require().NoError(err)
	sealer, err := seal.New([]byte("integration-seal-key"))
	s.Require().NoError(err)

	s.catalog = catalog.NewPostgres(s.postgres.DB)
	s.records = record.NewPostgres(s.postgres.DB, cipher)
	s.Require().NoError(seedDemo(ctx, s.catalog, seedTime))

	tx := newAttendancePostgresTx(s.postgres.DB, service.TxStores{Records: s.records, Students: s.catalog}, 5*time.Second)
	s.svc = service.New(s.catalog, s.records, tx, sealer,
		service.WithAuditPublisher(compliance.New(auditpostgres.New(s.postgres.DB))),
	)
}

func (s *AttendanceTxSuite) at(day int, hhmm string) time.Time {
	loc, err := time.LoadLocation("America/New_York")
	s.Require().NoError(err)
	tod := models.MustTimeOfDay(hhmm)
	return time.Date(2025, 3, day, int(tod)/60, int(tod)%60, 0, 0, loc)
}

func onSite() *models.LocationCapture {
	accuracy := 10.0
	return &models.LocationCapture{
		Coordinate:     &models.Coordinate{Lat: 40.7129, Lon: -74.0061},
		AccuracyMeters: &accuracy,
		Source:         "gps",
	}
}

func (s *AttendanceTxSuite) countRows(table string) int {
	var n int
	s.Require().NoError(s.postgres.DB.QueryRowContext(context.Background(), "SELECT count(*) FROM "+table).Scan(&n))
	return n
}

func (s *AttendanceTxSuite) TestClockInAndOut() {
	ctx := context.Background()

	rec, err := s.svc.ClockIn(ctx, service.ClockInRequest{
		StudentID: demoStudentID, SiteID: demoSiteID, At: s.at(12, "08:00"), Location: onSite(),
	})
	s.Require().NoError(err)
	s.Equal("2025-03-12", rec.Date)

	closed, err := s.svc.ClockOut(ctx, service.ClockOutRequest{
		StudentID: demoStudentID, At: s.at(12, "16:30"), Location: onSite(),
	})
	s.Require().NoError(err)
	s.Require().NotNil(closed.TotalHours)
	s.Equal(8.5, *closed.TotalHours)

	student, err := s.catalog.FindStudent(ctx, demoStudentID)
	s.Require().NoError(err)
	s.Equal(8.5, student.CompletedHours)
	s.Equal(2, s.countRows("outbox"))

	report, err := s.svc.Report(ctx, demoStudentID, s.at(1, "00:00"), s.at(31, "23:59"))
	s.Require().NoError(err)
	s.Require().Len(report.Records, 1)
	s.True(report.Records[0].SealValid)
	s.Equal(8.5, report.TotalHours)
}

func (s *AttendanceTxSuite) TestConcurrentClockInSingleWinner() {
	ctx := context.Background()
	const workers = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.ClockIn(ctx, service.ClockInRequest{
				StudentID: demoStudentID, SiteID: demoSiteID, At: s.at(13, "09:00"), Location: onSite(),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		s.True(dErrors.HasCode(err, dErrors.CodeDuplicateOpen), "unexpected error: %v", err)
	}
	s.Equal(1, accepted)
	s.Equal(1, s.countRows("clock_records"))
	s.Equal(1, s.countRows("outbox"))
}

func (s *AttendanceTxSuite) TestRejectedClockInWritesNothing() {
	_, err := s.svc.ClockIn(context.Background(), service.ClockInRequest{
		StudentID: demoStudentID, SiteID: demoSiteID, At: s.at(15, "09:00"), Location: onSite(),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeOutsideSlot), "got %v", err)
	s.Equal(0, s.countRows("clock_records"))
	s.Equal(0, s.countRows("outbox"))
}
