// Package geo holds the pure distance and time arithmetic used by the
// attendance rules. Nothing here performs I/O or reads the clock.
package geo

import (
	"math"
	"time"
)

// EarthRadiusMeters is the mean Earth radius used by Haversine.
const EarthRadiusMeters = 6_371_000.0

// Haversine returns the great-circle distance in meters between two points
// given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// MinuteOfDay returns minutes since midnight in t's own location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// DateKey returns the calendar date of t in its own location as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// SameDate reports whether a and b fall on the same calendar day when both are
// viewed in b's location.
func SameDate(a, b time.Time) bool {
	return DateKey(a.In(b.Location())) == DateKey(b)
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RoundHalfUp rounds x to the given number of decimal places, with halves
// rounded away from zero.
func RoundHalfUp(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	// The epsilon absorbs binary representation error such as 2.675 -> 2.67499...
	if x >= 0 {
		return math.Floor(x*p+0.5+1e-9) / p
	}
	return -math.Floor(-x*p+0.5+1e-9) / p
}
