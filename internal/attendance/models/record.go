package models

import "time"

// RecordStatus is the lifecycle state of a ClockRecord.
type RecordStatus string

const (
	RecordOpen   RecordStatus = "OPEN"
	RecordClosed RecordStatus = "CLOSED"
)

// LocationCapture is the pre-captured position reported with a clock event,
// together with the geofence verdict computed for it.
type LocationCapture struct {
	Coordinate     *Coordinate `json:"coordinate,omitempty"`
	AccuracyMeters *float64    `json:"accuracyMeters,omitempty"`
	Source         string      `json:"source,omitempty"`
	WithinGeofence bool        `json:"withinGeofence"`
	DistanceMeters *float64    `json:"distanceMeters,omitempty"`
}

// Facility is reverse-geocoding enrichment. It never influences decisions.
type Facility struct {
	Name       string  `json:"name"`
	Address    string  `json:"address"`
	Confidence float64 `json:"confidence"`
}

// RecordMetadata captures the evidence gathered at each end of a record.
type RecordMetadata struct {
	ClockIn  *LocationCapture `json:"clockIn,omitempty"`
	ClockOut *LocationCapture `json:"clockOut,omitempty"`
	Facility *Facility        `json:"facility,omitempty"`
	Device   string           `json:"device,omitempty"`
}

// ClockRecord is one attendance event pair. It is created OPEN at clock-in
// and transitions to CLOSED exactly once at clock-out.
//
// Invariant: for a given StudentID and Date at most one record is OPEN.
type ClockRecord struct {
	ID         string         `json:"id"`
	StudentID  string         `json:"studentId"`
	RotationID string         `json:"rotationId"`
	SiteID     string         `json:"siteId"`
	Date       string         `json:"date"`
	ClockIn    *time.Time     `json:"clockIn,omitempty"`
	ClockOut   *time.Time     `json:"clockOut,omitempty"`
	TotalHours *float64       `json:"totalHours,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	Metadata   RecordMetadata `json:"metadata"`
	Status     RecordStatus   `json:"status"`
	Seal       string         `json:"-"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// IsOpen reports whether the record is awaiting clock-out.
func (r *ClockRecord) IsOpen() bool {
	return r.Status == RecordOpen
}

// Close applies the clock-out transition. Callers validate first.
func (r *ClockRecord) Close(at time.Time, totalHours float64, capture *LocationCapture) {
	r.ClockOut = &at
	r.TotalHours = &totalHours
	r.Metadata.ClockOut = capture
	r.Status = RecordClosed
	r.UpdatedAt = at
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (r *ClockRecord) Clone() *ClockRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.ClockIn != nil {
		t := *r.ClockIn
		c.ClockIn = &t
	}
	if r.ClockOut != nil {
		t := *r.ClockOut
		c.ClockOut = &t
	}
	if r.TotalHours != nil {
		h := *r.TotalHours
		c.TotalHours = &h
	}
	c.Metadata.ClockIn = r.Metadata.ClockIn.Clone()
	c.Metadata.ClockOut = r.Metadata.ClockOut.Clone()
	if r.Metadata.Facility != nil {
		f := *r.Metadata.Facility
		c.Metadata.Facility = &f
	}
	return &c
}

// Clone returns a deep copy of the capture.
func (l *LocationCapture) Clone() *LocationCapture {
	if l == nil {
		return nil
	}
	c := *l
	if l.Coordinate != nil {
		p := *l.Coordinate
		c.Coordinate = &p
	}
	if l.AccuracyMeters != nil {
		a := *l.AccuracyMeters
		c.AccuracyMeters = &a
	}
	if l.DistanceMeters != nil {
		d := *l.DistanceMeters
		c.DistanceMeters = &d
	}
	return &c
}
