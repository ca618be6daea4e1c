package service

import (
	"context"
	"errors"
	"math"
	"time"

	"rotaclock/internal/attendance/models"
	dErrors "rotaclock/pkg/domain-errors"
	"rotaclock/pkg/platform/sentinel"
)

// storeError translates infrastructure failures into system errors. Coded
// errors pass through unchanged.
func storeError(err error, message string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, message)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, message)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, message)
	}
}

func validateIdentity(studentID string, at time.Time) error {
	if studentID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "studentId is required")
	}
	if at.IsZero() {
		return dErrors.New(dErrors.CodeBadRequest, "timestamp is required")
	}
	return nil
}

func validateLocation(loc *models.LocationCapture) error {
	if loc == nil || loc.Coordinate == nil {
		return nil
	}
	c := loc.Coordinate
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return dErrors.New(dErrors.CodeBadRequest, "coordinate out of range").
			With("lat", c.Lat).With("lon", c.Lon)
	}
	if loc.AccuracyMeters != nil && *loc.AccuracyMeters < 0 {
		return dErrors.New(dErrors.CodeBadRequest, "accuracy must not be negative")
	}
	return nil
}
