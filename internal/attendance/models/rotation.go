package models

import "time"

// RotationStatus is the lifecycle state of a rotation.
type RotationStatus string

const (
	RotationScheduled RotationStatus = "SCHEDULED"
	RotationActive    RotationStatus = "ACTIVE"
	RotationCompleted RotationStatus = "COMPLETED"
	RotationCancelled RotationStatus = "CANCELLED"
)

// IsOpen reports whether a rotation in this status can accept attendance.
func (s RotationStatus) IsOpen() bool {
	return s == RotationScheduled || s == RotationActive
}

// WeeklySchedule is the recurring attendance pattern agreed for a rotation.
type WeeklySchedule struct {
	Weekdays []time.Weekday `json:"weekdays"`
	Window   DailyWindow    `json:"window"`
}

// Rotation binds one student to one site for an inclusive date range.
// StartDate and EndDate are calendar days; only their Y-M-D parts matter.
type Rotation struct {
	ID            string         `json:"id"`
	StudentID     string         `json:"studentId"`
	SiteID        string         `json:"siteId"`
	Specialty     string         `json:"specialty,omitempty"`
	StartDate     time.Time      `json:"startDate"`
	EndDate       time.Time      `json:"endDate"`
	RequiredHours float64        `json:"requiredHours"`
	Schedule      WeeklySchedule `json:"schedule"`
	Status        RotationStatus `json:"status"`
	CreatedAt     time.Time      `json:"createdAt"`
}
