package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"rotaclock/internal/attendance/geo"
	"rotaclock/internal/attendance/metrics"
	"rotaclock/internal/attendance/models"
	"rotaclock/internal/attendance/rules"
	dErrors "rotaclock/pkg/domain-errors"
	audit "rotaclock/pkg/platform/audit"
	"rotaclock/pkg/platform/sentinel"
	"rotaclock/pkg/requestcontext"
)

// ClockInRequest opens a record. Location is the pre-captured position, if
// the client obtained one.
type ClockInRequest struct {
	StudentID string
	SiteID    string
	At        time.Time
	Location  *models.LocationCapture
	Notes     string
}

// ClockOutRequest closes the student's open record.
type ClockOutRequest struct {
	StudentID string
	At        time.Time
	Location  *models.LocationCapture
}

// ClockIn validates the attempt and opens a record. Checks run in a fixed
// order and stop at the first failure; nothing is written unless all pass.
func (s *Service) ClockIn(ctx context.Context, req ClockInRequest) (*models.ClockRecord, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.ClockIn", trace.WithAttributes(
		attribute.String("student_id", req.StudentID),
		attribute.String("site_id", req.SiteID),
	))
	defer span.End()
	started := time.Now()

	rec, err := s.clockIn(ctx, req)
	s.finish(ctx, span, metrics.OpClockIn, req.StudentID, req.SiteID, started, err)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordOpened()
	s.enrich(ctx, rec)
	return rec, nil
}

func (s *Service) clockIn(ctx context.Context, req ClockInRequest) (*models.ClockRecord, error) {
	if err := validateIdentity(req.StudentID, req.At); err != nil {
		return nil, err
	}
	if req.SiteID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "siteId is required")
	}
	if err := validateLocation(req.Location); err != nil {
		return nil, err
	}

	site, err := s.catalog.FindSite(ctx, req.SiteID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeOutsideHours, "site not found").With("site_id", req.SiteID)
		}
		return nil, storeError(err, "failed to load site")
	}
	at := req.At.In(site.Zone())

	rotation, err := s.selectRotation(ctx, req.StudentID, site.ID, at)
	if err != nil {
		return nil, err
	}
	if rotation == nil {
		return nil, dErrors.New(dErrors.CodeNoRotation, "no active rotation at this site for the date").
			With("date", geo.DateKey(at))
	}
	if !rules.IsWithinSlotWindow(site, rotation, at) {
		return nil, dErrors.New(dErrors.CodeOutsideSlot, "no rotation slot covers this time").
			With("time", at.Format("15:04")).
			With("grace_minutes", max(site.Rules.GraceMinutes, 0))
	}
	if !rules.IsWithinOperatingHoursWithGrace(site, at) {
		return nil, dErrors.New(dErrors.CodeOutsideHours, "site is closed at this time").
			With("time", at.Format("15:04")).
			With("weekday", at.Weekday().String())
	}

	capture, fence := checkGeofence(site, req.Location)
	if !fence.OK {
		return nil, geofenceError(site, fence)
	}

	now := requestcontext.Now(ctx)
	rec := &models.ClockRecord{
		ID:         s.newID(),
		StudentID:  req.StudentID,
		RotationID: rotation.ID,
		SiteID:     site.ID,
		Date:       geo.DateKey(at),
		ClockIn:    &at,
		Notes:      req.Notes,
		Metadata: models.RecordMetadata{
			ClockIn: capture,
			Device:  deviceLabel(requestcontext.UserAgent(ctx)),
		},
		Status:    models.RecordOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec.Seal = s.sealer.Seal(rec)

	err = s.tx.RunInTx(ctx, req.StudentID, func(ctx context.Context, stores TxStores) error {
		existing, err := stores.Records.FindOpenRecord(ctx, rec.StudentID, rec.Date)
		switch {
		case err == nil:
			return duplicateOpen(rec.Date).With("record_id", existing.ID)
		case !errors.Is(err, sentinel.ErrNotFound):
			return storeError(err, "failed to check open record")
		}
		// Audit first: the in-process boundary cannot roll back a write.
		if err := s.emitAccepted(ctx, audit.EventClockInAccepted, rec); err != nil {
			return err
		}
		if err := stores.Records.InsertIfAbsent(ctx, rec); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return duplicateOpen(rec.Date)
			}
			return storeError(err, "failed to insert clock record")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ClockOut closes the student's open record for the date of req.At, or for
// the previous date when the shift ran past midnight.
func (s *Service) ClockOut(ctx context.Context, req ClockOutRequest) (*models.ClockRecord, error) {
	ctx, span := s.tracer.Start(ctx, "attendance.ClockOut", trace.WithAttributes(
		attribute.String("student_id", req.StudentID),
	))
	defer span.End()
	started := time.Now()

	rec, err := s.clockOut(ctx, req)
	siteID := ""
	if rec != nil {
		siteID = rec.SiteID
	}
	s.finish(ctx, span, metrics.OpClockOut, req.StudentID, siteID, started, err)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordClosed(*rec.TotalHours)
	return rec, nil
}

func (s *Service) clockOut(ctx context.Context, req ClockOutRequest) (*models.ClockRecord, error) {
	if err := validateIdentity(req.StudentID, req.At); err != nil {
		return nil, err
	}
	if err := validateLocation(req.Location); err != nil {
		return nil, err
	}

	var closed *models.ClockRecord
	err := s.tx.RunInTx(ctx, req.StudentID, func(ctx context.Context, stores TxStores) error {
		rec, site, err := s.findClosable(ctx, stores.Records, req.StudentID, req.At)
		if err != nil {
			return err
		}
		if site == nil {
			return dErrors.New(dErrors.CodeInvalidState, "site for the open record no longer exists").
				With("record_id", rec.ID)
		}
		if _, err := s.catalog.FindRotation(ctx, rec.RotationID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeInvalidState, "rotation for the open record no longer exists").
					With("record_id", rec.ID)
			}
			return storeError(err, "failed to load rotation")
		}
		if rec.ClockIn == nil {
			return dErrors.New(dErrors.CodeInvalidState, "open record has no clock-in time").
				With("record_id", rec.ID)
		}
		if !s.sealer.Verify(rec) {
			s.metrics.SealMismatch()
			return dErrors.New(dErrors.CodeInvalidState, "open record failed its integrity check").
				With("record_id", rec.ID)
		}

		at := req.At.In(site.Zone())
		capture, fence := checkGeofence(site, req.Location)
		if site.Rules.GeofenceOnClockOut && !fence.OK {
			return geofenceError(site, fence)
		}

		clockIn := rec.ClockIn.In(at.Location())
		duration := at.Sub(clockIn)
		if duration <= 0 {
			return dErrors.New(dErrors.CodeInvalidTimeOrder, "clock-out must be after clock-in").
				With("clock_in", clockIn.Format(time.RFC3339))
		}
		if !site.Rules.AllowOvernight && !geo.SameDate(clockIn, at) {
			return dErrors.New(dErrors.CodeOvernightNotAllowed, "site does not allow shifts past midnight").
				With("clock_in", clockIn.Format(time.RFC3339))
		}
		hours := duration.Hours()
		maxHours := site.Rules.EffectiveMaxShiftHours()
		if hours > maxHours {
			return dErrors.New(dErrors.CodeShiftTooLong, "shift exceeds the site maximum").
				With("hours", geo.RoundHalfUp(hours, 2)).
				With("max_hours", maxHours)
		}
		total := geo.RoundHalfUp(hours, 2)
		if total <= 0 {
			return dErrors.New(dErrors.CodeInvalidTimeOrder, "shift is too short to credit").
				With("clock_in", clockIn.Format(time.RFC3339))
		}

		next := rec.Clone()
		next.Close(at, total, capture)
		next.UpdatedAt = requestcontext.Now(ctx)
		next.Seal = s.sealer.Seal(next)

		if err := s.emitAccepted(ctx, audit.EventClockOutAccepted, next); err != nil {
			return err
		}
		if err := stores.Records.Update(ctx, next); err != nil {
			switch {
			case errors.Is(err, sentinel.ErrInvalidState):
				return dErrors.New(dErrors.CodeInvalidState, "record is no longer open").With("record_id", rec.ID)
			case errors.Is(err, sentinel.ErrNotFound):
				return dErrors.New(dErrors.CodeNoOpenRecord, "no open record to close")
			}
			return storeError(err, "failed to close clock record")
		}
		if err := stores.Students.AddCompletedHours(ctx, next.StudentID, total); err != nil {
			if !errors.Is(err, sentinel.ErrNotFound) {
				return storeError(err, "failed to update completed hours")
			}
			s.logger.Warn("completed hours not credited: student not in catalog",
				zap.String("student_id", next.StudentID),
				zap.String("record_id", next.ID),
			)
		}
		closed = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// findClosable picks the open record dated at's site-local date, falling
// back to the previous date. The returned site is nil when the record's site
// no longer resolves.
func (s *Service) findClosable(ctx context.Context, records RecordStore, studentID string, at time.Time) (*models.ClockRecord, *models.ClinicalSite, error) {
	open, err := records.ListOpenByStudent(ctx, studentID)
	if err != nil {
		return nil, nil, storeError(err, "failed to load open records")
	}

	var (
		fallback     *models.ClockRecord
		fallbackSite *models.ClinicalSite
	)
	for _, rec := range open {
		site, err := s.catalog.FindSite(ctx, rec.SiteID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, storeError(err, "failed to load site")
		}
		zone := time.UTC
		if site != nil {
			zone = site.Zone()
		}
		local := at.In(zone)
		switch rec.Date {
		case geo.DateKey(local):
			return rec, site, nil
		case geo.DateKey(local.AddDate(0, 0, -1)):
			if fallback == nil {
				fallback, fallbackSite = rec, site
			}
		}
	}
	if fallback != nil {
		return fallback, fallbackSite, nil
	}
	return nil, nil, dErrors.New(dErrors.CodeNoOpenRecord, "no open record for this date").
		With("date", geo.DateKey(at))
}

func (s *Service) selectRotation(ctx context.Context, studentID, siteID string, at time.Time) (*models.Rotation, error) {
	rotations, err := s.catalog.ListRotations(ctx, studentID, siteID)
	if err != nil {
		return nil, storeError(err, "failed to load rotations")
	}
	rotation, ok := rules.SelectActiveRotation(rotations, studentID, siteID, at)
	if !ok {
		return nil, nil
	}
	return rotation, nil
}

func checkGeofence(site *models.ClinicalSite, loc *models.LocationCapture) (*models.LocationCapture, rules.GeofenceResult) {
	capture := &models.LocationCapture{}
	if loc != nil {
		capture = loc.Clone()
	}
	fence := rules.ValidateGeofence(site, capture.Coordinate)
	capture.WithinGeofence = fence.OK
	capture.DistanceMeters = fence.DistanceMeters
	return capture, fence
}

func geofenceError(site *models.ClinicalSite, fence rules.GeofenceResult) *dErrors.Error {
	err := dErrors.New(dErrors.CodeGeofenceFail, "location is outside the site geofence")
	if fence.DistanceMeters == nil {
		return err.With("reason", "location unavailable")
	}
	return err.
		With("distance_meters", geo.RoundHalfUp(*fence.DistanceMeters, 1)).
		With("radius_meters", site.RadiusMeters)
}

func duplicateOpen(date string) *dErrors.Error {
	return dErrors.New(dErrors.CodeDuplicateOpen, "an open record already exists for this date").
		With("date", date)
}

func (s *Service) emitAccepted(ctx context.Context, event audit.AuditEvent, rec *models.ClockRecord) error {
	if s.auditPublisher == nil {
		return nil
	}
	err := s.auditPublisher.Emit(ctx, audit.ComplianceEvent{
		Timestamp: requestcontext.Now(ctx),
		StudentID: rec.StudentID,
		Action:    string(event),
		Decision:  "accepted",
		RecordID:  rec.ID,
		SiteID:    rec.SiteID,
		RequestID: requestcontext.RequestID(ctx),
		ActorID:   actorFor(ctx, rec.StudentID),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "audit trail unavailable")
	}
	return nil
}

func actorFor(ctx context.Context, studentID string) string {
	if subject := requestcontext.Subject(ctx); subject != studentID {
		return subject
	}
	return ""
}

// finish records metrics, span status, logs and the rejection audit trail
// for one transition attempt.
func (s *Service) finish(ctx context.Context, span trace.Span, op, studentID, siteID string, started time.Time, err error) {
	if err == nil {
		s.metrics.Observe(op, metrics.OutcomeAccepted, started)
		return
	}

	code := dErrors.CodeOf(err)
	s.metrics.Observe(op, string(code), started)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("student_id", studentID),
		zap.String("code", string(code)),
		zap.String("request_id", requestcontext.RequestID(ctx)),
	}
	if code.Category() == dErrors.CategorySystem {
		s.logger.Error("clock transition failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info("clock transition rejected", fields...)

	if s.rejections != nil && code.Category() != dErrors.CategoryRequest {
		s.rejections.Track(ctx, audit.OpsEvent{
			Timestamp: requestcontext.Now(ctx),
			StudentID: studentID,
			Action:    string(audit.EventClockRejected),
			Reason:    string(code),
			SiteID:    siteID,
			RequestID: requestcontext.RequestID(ctx),
		})
	}
}
