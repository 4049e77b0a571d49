package coord

import (
	"math"

	"github.com/w1xm/skywatcher/angle"
)

// equhor converts between azimuth/altitude and hour-angle/declination at
// latitude phi, all in radians. Azimuth runs from north through east and
// hour angle westward from the meridian. The direction is turned into a
// unit vector and mirrored through the meridian plane by a rotation that
// is its own inverse, so the same call serves both ways.
func equhor(lon, lat, phi float64) (float64, float64) {
	sphi, cphi := math.Sincos(phi)
	slon, clon := math.Sincos(lon)
	slat, clat := math.Sincos(lat)
	x, y, z := clat*clon, clat*slon, slat

	x, y, z = cphi*z-sphi*x, -y, cphi*x+sphi*z
	return angle.Rad(angle.Range360(angle.Deg(math.Atan2(y, x)))), math.Asin(clamp(z))
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// ToAltAz converts eq to a horizon coordinate for the given local sidereal
// time and latitude (degrees).
func ToAltAz(eq Equatorial, lst angle.HourAngle, latitude float64) AltAzimuth {
	ha := lst.Sub(eq.RA).Radians()
	az, alt := equhor(ha, eq.Dec.Radians(), angle.Rad(latitude))
	return NewAltAzimuth(angle.Deg(alt), angle.Deg(az))
}

// ToEquatorial is the inverse of ToAltAz.
func ToEquatorial(aa AltAzimuth, lst angle.HourAngle, latitude float64) Equatorial {
	ha, dec := equhor(aa.Az.Radians(), aa.Alt.Radians(), angle.Rad(latitude))
	return NewEquatorial(lst.Hours()-angle.Deg(ha)/15, angle.Deg(dec))
}

// HourAngle returns LST - RA reduced to (-12h, 12h]. Positive values are
// west of the meridian.
func HourAngle(ra, lst angle.HourAngle) angle.HourAngle {
	return angle.NewHours(angle.Range12(lst.Hours() - ra.Hours()))
}
