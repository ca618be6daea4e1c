package main

import (
	"context"
	"fmt"
	"time"

	"rotaclock/internal/attendance/models"
	"rotaclock/internal/attendance/store/catalog"
)

// catalogSeeder is implemented by the Postgres catalog and by memorySeeder.
type catalogSeeder interface {
	UpsertSite(ctx context.Context, site models.ClinicalSite) error
	UpsertProgram(ctx context.Context, p models.Program) error
	UpsertStudent(ctx context.Context, st models.Student) error
	UpsertRotation(ctx context.Context, r models.Rotation) error
}

type memorySeeder struct {
	store *catalog.InMemoryStore
}

func (m memorySeeder) UpsertSite(_ context.Context, site models.ClinicalSite) error {
	m.store.PutSite(site)
	return nil
}

func (m memorySeeder) UpsertProgram(_ context.Context, p models.Program) error {
	m.store.PutProgram(p)
	return nil
}

func (m memorySeeder) UpsertStudent(_ context.Context, st models.Student) error {
	m.store.PutStudent(st)
	return nil
}

func (m memorySeeder) UpsertRotation(_ context.Context, r models.Rotation) error {
	m.store.PutRotation(r)
	return nil
}

const (
	demoStudentID = "demo-student"
	demoSiteID    = "demo-site"
)

// seedDemo writes one site, program, student and a rotation spanning the
// current month so a fresh deployment can be exercised end to end.
func seedDemo(ctx context.Context, s catalogSeeder, now time.Time) error {
	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	day := models.DailyWindow{Open: models.MustTimeOfDay("06:00"), Close: models.MustTimeOfDay("20:00")}

	hours := models.OperatingHours{}
	slots := make([]models.RotationSlot, 0, len(weekdays))
	for _, wd := range weekdays {
		hours[wd] = day
		slots = append(slots, models.RotationSlot{
			Weekday:     wd,
			Start:       models.MustTimeOfDay("07:00"),
			End:         models.MustTimeOfDay("19:00"),
			MaxStudents: 4,
		})
	}

	site := models.ClinicalSite{
		ID:                   demoSiteID,
		Name:                 "Riverside General Hospital",
		TimeZone:             "America/New_York",
		Capacity:             10,
		AcceptedRequirements: []string{"BLS", "IMMUNIZATIONS"},
		Specialties:          []string{"internal-medicine"},
		Location:             &models.Coordinate{Lat: 40.7128, Lon: -74.0060},
		RadiusMeters:         150,
		Rules: models.SiteRules{
			MaxShiftHours:    12,
			GraceMinutes:     15,
			GeofenceRequired: true,
		},
		OperatingHours: hours,
		Slots:          slots,
	}
	program := models.Program{ID: "demo-program", SchoolID: "demo-school", Requirements: []string{"BLS"}}
	student := models.Student{ID: demoStudentID, ProgramID: program.ID}

	loc := site.Zone()
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	rotation := models.Rotation{
		ID:            "demo-rotation",
		StudentID:     student.ID,
		SiteID:        site.ID,
		Specialty:     "internal-medicine",
		StartDate:     start,
		EndDate:       start.AddDate(0, 1, -1),
		RequiredHours: 160,
		Schedule:      models.WeeklySchedule{Weekdays: weekdays, Window: models.DailyWindow{Open: models.MustTimeOfDay("07:00"), Close: models.MustTimeOfDay("19:00")}},
		Status:        models.RotationActive,
		CreatedAt:     now,
	}

	if err := s.UpsertSite(ctx, site); err != nil {
		return fmt.Errorf("seed site: %w", err)
	}
	if err := s.UpsertProgram(ctx, program); err != nil {
		return fmt.Errorf("seed program: %w", err)
	}
	if err := s.UpsertStudent(ctx, student); err != nil {
		return fmt.Errorf("seed student: %w", err)
	}
	if err := s.UpsertRotation(ctx, rotation); err != nil {
		return fmt.Errorf("seed rotation: %w", err)
	}
	return nil
}
