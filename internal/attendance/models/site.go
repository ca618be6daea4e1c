package models

import "time"

// DefaultMaxShiftHours applies when a site leaves MaxShiftHours unset.
const DefaultMaxShiftHours = 12.0

// Coordinate is a WGS-84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// SiteRules are the per-site attendance policies.
type SiteRules struct {
	MaxShiftHours    float64 `json:"maxShiftHours"`
	AllowOvernight   bool    `json:"allowOvernight"`
	GraceMinutes     int     `json:"graceMinutes"`
	GeofenceRequired bool    `json:"geofenceRequired"`
	// GeofenceOnClockOut makes a failed clock-out geofence check blocking.
	// Without it the clock-out result is recorded but advisory.
	GeofenceOnClockOut bool `json:"geofenceOnClockOut"`
}

// EffectiveMaxShiftHours returns MaxShiftHours or the default when unset.
func (r SiteRules) EffectiveMaxShiftHours() float64 {
	if r.MaxShiftHours <= 0 {
		return DefaultMaxShiftHours
	}
	return r.MaxShiftHours
}

// RotationSlot is a recurring weekly window during which students may attend.
type RotationSlot struct {
	Weekday     time.Weekday `json:"weekday"`
	Start       TimeOfDay    `json:"start"`
	End         TimeOfDay    `json:"end"`
	MaxStudents int          `json:"maxStudents"`
	Specialty   string       `json:"specialty,omitempty"`
}

// ClinicalSite is an affiliated training site. The engine treats sites as
// read-only; admin workflows own their mutation.
type ClinicalSite struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	TimeZone             string         `json:"timeZone,omitempty"`
	Capacity             int            `json:"capacity"`
	AcceptedRequirements []string       `json:"acceptedRequirements"`
	Specialties          []string       `json:"specialties"`
	Location             *Coordinate    `json:"location,omitempty"`
	RadiusMeters         float64        `json:"radiusMeters"`
	StrictGeofence       bool           `json:"strictGeofence"`
	Rules                SiteRules      `json:"rules"`
	OperatingHours       OperatingHours `json:"operatingHours"`
	Slots                []RotationSlot `json:"slots"`
}

// Zone resolves the site's IANA time zone, falling back to UTC.
func (s *ClinicalSite) Zone() *time.Location {
	if s.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
