package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rotaclock/internal/attendance/geo"
	"rotaclock/internal/attendance/metrics"
	"rotaclock/internal/attendance/models"
	dErrors "rotaclock/pkg/domain-errors"
	"rotaclock/pkg/platform/sentinel"
)

// ReportRecord is a record as shown in a report. SealValid is false when the
// stored record no longer matches its integrity seal.
type ReportRecord struct {
	*models.ClockRecord
	SealValid bool `json:"sealValid"`
}

// AttendanceReport lists a student's records in a date range. A zero From
// or To is an open bound.
type AttendanceReport struct {
	StudentID  string         `json:"studentId"`
	From       time.Time      `json:"from,omitzero"`
	To         time.Time      `json:"to,omitzero"`
	Records    []ReportRecord `json:"records"`
	TotalHours float64        `json:"totalHours"`
}

// Report returns the student's records whose clock-in falls in [from, to],
// ordered by clock-in. A zero from or to leaves that side unbounded. TotalHours sums closed records only. Reports are
// read-only and repeatable.
func (s *Service) Report(ctx context.Context, studentID string, from, to time.Time) (*AttendanceReport, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.Report", trace.WithAttributes(
		attribute.String("student_id", studentID),
	))
	defer span.End()
	started := time.Now()

	report, err := s.report(ctx, studentID, from, to)
	outcome := metrics.OutcomeAccepted
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
	}
	s.metrics.Observe(metrics.OpReport, outcome, started)
	return report, err
}

func withinBounds(ref, from, to time.Time) bool {
	if !from.IsZero() && ref.Before(from) {
		return false
	}
	return to.IsZero() || !ref.After(to)
}

func (s *Service) report(ctx context.Context, studentID string, from, to time.Time) (*AttendanceReport, error) {
	if studentID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "studentId is required")
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "from must not be after to")
	}

	all, err := s.records.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, storeError(err, "failed to load records")
	}

	type entry struct {
		ref time.Time
		rec *models.ClockRecord
	}
	var matched []entry
	for _, rec := range all {
		ref, ok := referenceTime(rec)
		if !ok || !withinBounds(ref, from, to) {
			continue
		}
		matched = append(matched, entry{ref: ref, rec: rec})
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ref.Equal(matched[j].ref) {
			return matched[i].ref.Before(matched[j].ref)
		}
		return matched[i].rec.ID < matched[j].rec.ID
	})

	report := &AttendanceReport{
		StudentID: studentID,
		From:      from,
		To:        to,
		Records:   make([]ReportRecord, 0, len(matched)),
	}
	var total float64
	for _, m := range matched {
		if m.rec.Status == models.RecordClosed && m.rec.TotalHours != nil {
			total += *m.rec.TotalHours
		}
		report.Records = append(report.Records, ReportRecord{
			ClockRecord: m.rec,
			SealValid:   s.sealer.Verify(m.rec),
		})
	}
	report.TotalHours = geo.RoundHalfUp(total, 2)
	return report, nil
}

// referenceTime is the clock-in instant, or midnight UTC of the record date
// when clock-in is missing.
func referenceTime(rec *models.ClockRecord) (time.Time, bool) {
	if rec.ClockIn != nil {
		return *rec.ClockIn, true
	}
	t, err := time.ParseInLocation(time.DateOnly, rec.Date, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Progress summarizes hours credited against a rotation's requirement.
type Progress struct {
	RotationID     string  `json:"rotationId"`
	StudentID      string  `json:"studentId"`
	RequiredHours  float64 `json:"requiredHours"`
	CompletedHours float64 `json:"completedHours"`
	RemainingHours float64 `json:"remainingHours"`
	PercentDone    float64 `json:"percentDone"`
	OpenRecords    int     `json:"openRecords"`
}

// RotationProgress computes progress from the rotation's closed records.
func (s *Service) RotationProgress(ctx context.Context, rotationID string) (*Progress, error) {
	if rotationID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "rotationId is required")
	}
	rotation, err := s.catalog.FindRotation(ctx, rotationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "rotation not found").With("rotation_id", rotationID)
		}
		return nil, storeError(err, "failed to load rotation")
	}
	records, err := s.records.ListByRotation(ctx, rotationID)
	if err != nil {
		return nil, storeError(err, "failed to load records")
	}

	var completed float64
	open := 0
	for _, rec := range records {
		switch {
		case rec.IsOpen():
			open++
		case rec.TotalHours != nil:
			completed += *rec.TotalHours
		}
	}
	completed = geo.RoundHalfUp(completed, 2)

	percent := 100.0
	if rotation.RequiredHours > 0 {
		percent = math.Min(100, geo.RoundHalfUp(completed/rotation.RequiredHours*100, 1))
	}
	return &Progress{
		RotationID:     rotation.ID,
		StudentID:      rotation.StudentID,
		RequiredHours:  rotation.RequiredHours,
		CompletedHours: completed,
		RemainingHours: geo.RoundHalfUp(math.Max(0, rotation.RequiredHours-completed), 2),
		PercentDone:    percent,
		OpenRecords:    open,
	}, nil
}
