package angle

import "math"

// Range360 reduces degrees to [0, 360). Exactly 360 maps to 0.
func Range360(d float64) float64 {
	return wrap(d, 360)
}

// Range24 reduces hours to [0, 24).
func Range24(h float64) float64 {
	return wrap(h, 24)
}

// Range2Pi reduces radians to [0, 2π).
func Range2Pi(r float64) float64 {
	return wrap(r, 2*math.Pi)
}

// Range180 reduces degrees to (-180, 180].
func Range180(d float64) float64 {
	d = Range360(d)
	if d > 180 {
		d -= 360
	}
	return d
}

// Range12 reduces hours to (-12, 12].
func Range12(h float64) float64 {
	h = Range24(h)
	if h > 12 {
		h -= 24
	}
	return h
}

// RangePi reduces radians to (-π, π].
func RangePi(r float64) float64 {
	r = Range2Pi(r)
	if r > math.Pi {
		r -= 2 * math.Pi
	}
	return r
}

func wrap(v, period float64) float64 {
	v = math.Mod(v, period)
	if v < 0 {
		v += period
	}
	// -1e-18 + 360 rounds to 360 in float64
	if v >= period {
		v = 0
	}
	return v
}

func Rad(deg float64) float64 {
	return deg * math.Pi / 180
}

func Deg(rad float64) float64 {
	return rad * 180 / math.Pi
}
