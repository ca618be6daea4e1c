package rules

import (
	"time"

	"rotaclock/internal/attendance/geo"
	"rotaclock/internal/attendance/models"
)

// SelectActiveRotation picks the rotation binding studentID to siteID on at's
// calendar date. Only SCHEDULED and ACTIVE rotations qualify; the date range is
// inclusive at both ends.
//
// Business rules should leave at most one candidate. When they don't, the
// choice is ACTIVE over SCHEDULED, then the most recently created, then the
// highest id, so the result is deterministic.
func SelectActiveRotation(rotations []*models.Rotation, studentID, siteID string, at time.Time) (*models.Rotation, bool) {
	day := geo.DateKey(at)

	var best *models.Rotation
	for _, r := range rotations {
		if r.StudentID != studentID || r.SiteID != siteID || !r.Status.IsOpen() {
			continue
		}
		// Boundaries are calendar days stored as midnight values; compare Y-M-D only.
		if day < geo.DateKey(r.StartDate) || day > geo.DateKey(r.EndDate) {
			continue
		}
		if best == nil || preferRotation(r, best) {
			best = r
		}
	}
	return best, best != nil
}

func preferRotation(a, b *models.Rotation) bool {
	if a.Status != b.Status {
		return a.Status == models.RotationActive
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
