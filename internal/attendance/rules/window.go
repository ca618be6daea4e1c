package rules

import (
	"time"

	"rotaclock/internal/attendance/geo"
	"rotaclock/internal/attendance/models"
)

// IsWithinOperatingHours reports whether at falls inside the site's open
// window for at's weekday. A weekday with no entry means the site is closed.
// at must already be expressed in the site's local time.
func IsWithinOperatingHours(site *models.ClinicalSite, at time.Time) bool {
	window, ok := site.OperatingHours[at.Weekday()]
	if !ok {
		return false
	}
	return window.Contains(geo.MinuteOfDay(at))
}

// IsWithinOperatingHoursWithGrace is IsWithinOperatingHours with the open
// window widened by the site's grace period, so an early arrival accepted by
// the slot check is not turned away at the door.
func IsWithinOperatingHoursWithGrace(site *models.ClinicalSite, at time.Time) bool {
	window, ok := site.OperatingHours[at.Weekday()]
	if !ok {
		return false
	}
	grace := graceMinutes(site)
	minute := geo.MinuteOfDay(at)
	return minute >= int(window.Open)-grace && minute <= int(window.Close)+grace
}

// IsWithinSlotWindow reports whether at falls inside a slot usable by the
// rotation, widened on both sides by the site's grace period.
//
// A slot is usable when its weekday matches and its specialty is unset or
// equals the rotation's specialty. When several slots are usable, any one of
// them containing at is enough.
func IsWithinSlotWindow(site *models.ClinicalSite, rotation *models.Rotation, at time.Time) bool {
	grace := graceMinutes(site)
	minute := geo.MinuteOfDay(at)

	for _, slot := range site.Slots {
		if slot.Weekday != at.Weekday() {
			continue
		}
		if slot.Specialty != "" && slot.Specialty != rotation.Specialty {
			continue
		}
		if minute >= int(slot.Start)-grace && minute <= int(slot.End)+grace {
			return true
		}
	}
	return false
}

// graceMinutes treats a negative grace as none.
func graceMinutes(site *models.ClinicalSite) int {
	return max(site.Rules.GraceMinutes, 0)
}
