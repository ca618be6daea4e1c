package rules

import (
	"rotaclock/internal/attendance/geo"
	"rotaclock/internal/attendance/models"
)

// GeofenceResult is the verdict for one reported coordinate. DistanceMeters is
// nil when no distance was computed.
type GeofenceResult struct {
	OK             bool     `json:"ok"`
	DistanceMeters *float64 `json:"distanceMeters,omitempty"`
}

// ValidateGeofence compares a reported coordinate with the site's registered
// location.
//
// Rule chain:
//  1. Geofencing not required: always ok, no distance.
//  2. Site has no registered location, or no coordinate reported: not ok.
//  3. Otherwise ok iff the haversine distance is within RadiusMeters.
//
// Strict sites take the same path; their strictness lives in the radius value.
func ValidateGeofence(site *models.ClinicalSite, reported *models.Coordinate) GeofenceResult {
	if !site.Rules.GeofenceRequired {
		return GeofenceResult{OK: true}
	}
	if site.Location == nil || reported == nil {
		return GeofenceResult{OK: false}
	}
	d := geo.Haversine(site.Location.Lat, site.Location.Lon, reported.Lat, reported.Lon)
	return GeofenceResult{OK: d <= site.RadiusMeters, DistanceMeters: &d}
}
