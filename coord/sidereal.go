package coord

import (
	"math"
	"time"

	"github.com/w1xm/skywatcher/angle"
)

const (
	// J1970 is the Julian date of the Unix epoch.
	J1970 = 2440587.5
	// J2000 is the Julian date of 2000-01-01 12:00 TT.
	J2000 = 2451545.0
)

// JulianDate returns the Julian date of t, to millisecond precision.
func JulianDate(t time.Time) float64 {
	return float64(t.UTC().UnixMilli())/86400000.0 + J1970
}

// GreenwichSiderealTime returns the Greenwich mean sidereal time in hours.
func GreenwichSiderealTime(t time.Time) float64 {
	d := JulianDate(t) - J2000
	gst := math.Mod(18.697374558+24.06570982441908*d, 24)
	if gst < 0 {
		gst += 24
	}
	return gst
}

// LocalSiderealTime returns the mean sidereal time at the given longitude
// (degrees, east positive).
func LocalSiderealTime(t time.Time, longitude float64) angle.HourAngle {
	return angle.NewHours(angle.Range24(GreenwichSiderealTime(t) + longitude/15.0))
}
