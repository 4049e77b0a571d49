// Package angle implements immutable angle values in degrees and hours with
// sexagesimal decomposition, parsing and formatting.
package angle

import "math"

// Epsilon is the tolerance used by Equal, in the angle's own unit.
const Epsilon = 1e-9

// Format selects how an angle is rendered by String.
type Format int

const (
	// Decimal renders 12.504306°
	Decimal Format = iota
	// DMS renders 12°30'15.50" (or 12h30m15.50s for hours)
	DMS
	// Colon renders 12:30:15.50
	Colon
	// Compact renders 123015
	Compact
)

func (f Format) String() string {
	switch f {
	case Decimal:
		return "decimal"
	case DMS:
		return "dms"
	case Colon:
		return "colon"
	case Compact:
		return "compact"
	}
	return "unknown"
}

// sexagesimal holds a decimal value and its whole/minutes/seconds
// decomposition. All three components carry the sign of value.
type sexagesimal struct {
	value   float64
	format  Format
	whole   int
	minutes int
	seconds float64
}

func newSexagesimal(v float64, f Format) sexagesimal {
	w, m, s := decompose(v)
	return sexagesimal{value: v, format: f, whole: w, minutes: m, seconds: s}
}

func decompose(v float64) (int, int, float64) {
	sign := 1.0
	if v < 0 {
		sign = -1
	}
	a := math.Abs(v)
	w := math.Floor(a)
	m := math.Floor((a - w) * 60)
	s := (a-w)*3600 - m*60
	if s < 0 {
		s = 0
	}
	return int(sign * w), int(sign * m), sign * s
}

func compose(negative bool, w, m int, s float64) float64 {
	v := math.Abs(float64(w)) + math.Abs(float64(m))/60 + math.Abs(s)/3600
	if negative {
		return -v
	}
	return v
}

// Angle is an angle in degrees. The zero value is 0° in Decimal format.
type Angle struct {
	sx sexagesimal
}

// New returns an Angle of d degrees in Decimal format.
func New(d float64) Angle {
	return Angle{sx: newSexagesimal(d, Decimal)}
}

// FromRadians returns an Angle in Decimal format.
func FromRadians(r float64) Angle {
	return New(Deg(r))
}

// FromDMS builds an angle from degrees, minutes and seconds. The angle is
// negative if any component is negative.
func FromDMS(d, m int, s float64) Angle {
	neg := d < 0 || m < 0 || s < 0
	return Angle{sx: newSexagesimal(compose(neg, d, m, s), DMS)}
}

func (a Angle) Degrees() float64 { return a.sx.value }
func (a Angle) Radians() float64 { return Rad(a.sx.value) }

// Hours converts to an hour angle (15° per hour), keeping the format.
func (a Angle) Hours() HourAngle {
	return HourAngle{sx: newSexagesimal(a.sx.value/15, a.sx.format)}
}

// DMS returns the sign-consistent degrees/minutes/seconds decomposition.
func (a Angle) DMS() (int, int, float64) {
	return a.sx.whole, a.sx.minutes, a.sx.seconds
}

func (a Angle) Format() Format { return a.sx.format }

// WithFormat returns the same angle rendered in f.
func (a Angle) WithFormat(f Format) Angle {
	a.sx.format = f
	return a
}

func (a Angle) Equal(b Angle) bool {
	return math.Abs(a.sx.value-b.sx.value) <= Epsilon
}

func (a Angle) Add(b Angle) Angle          { return a.with(a.sx.value + b.sx.value) }
func (a Angle) Sub(b Angle) Angle          { return a.with(a.sx.value - b.sx.value) }
func (a Angle) Mul(f float64) Angle        { return a.with(a.sx.value * f) }
func (a Angle) Div(f float64) Angle        { return a.with(a.sx.value / f) }
func (a Angle) Neg() Angle                 { return a.with(-a.sx.value) }
func (a Angle) Range360() Angle            { return a.with(Range360(a.sx.value)) }
func (a Angle) Range180() Angle            { return a.with(Range180(a.sx.value)) }
func (a Angle) AddDegrees(d float64) Angle { return a.with(a.sx.value + d) }

func (a Angle) with(v float64) Angle {
	return Angle{sx: newSexagesimal(v, a.sx.format)}
}

func (a Angle) String() string {
	return a.sx.format.render(a.sx.value, unitDegrees)
}

// HourAngle is an angle in hours, used for right ascension and hour angle.
type HourAngle struct {
	sx sexagesimal
}

// NewHours returns an HourAngle of h hours in Decimal format.
func NewHours(h float64) HourAngle {
	return HourAngle{sx: newSexagesimal(h, Decimal)}
}

// FromHMS builds an hour angle from hours, minutes and seconds.
func FromHMS(h, m int, s float64) HourAngle {
	neg := h < 0 || m < 0 || s < 0
	return HourAngle{sx: newSexagesimal(compose(neg, h, m, s), DMS)}
}

func (h HourAngle) Hours() float64   { return h.sx.value }
func (h HourAngle) Radians() float64 { return Rad(h.sx.value * 15) }

// Degrees converts to an Angle (15° per hour), keeping the format.
func (h HourAngle) Degrees() Angle {
	return Angle{sx: newSexagesimal(h.sx.value*15, h.sx.format)}
}

func (h HourAngle) HMS() (int, int, float64) {
	return h.sx.whole, h.sx.minutes, h.sx.seconds
}

func (h HourAngle) Format() Format { return h.sx.format }

func (h HourAngle) WithFormat(f Format) HourAngle {
	h.sx.format = f
	return h
}

func (h HourAngle) Equal(o HourAngle) bool {
	return math.Abs(h.sx.value-o.sx.value) <= Epsilon
}

func (h HourAngle) Add(o HourAngle) HourAngle    { return h.with(h.sx.value + o.sx.value) }
func (h HourAngle) Sub(o HourAngle) HourAngle    { return h.with(h.sx.value - o.sx.value) }
func (h HourAngle) Mul(f float64) HourAngle      { return h.with(h.sx.value * f) }
func (h HourAngle) Div(f float64) HourAngle      { return h.with(h.sx.value / f) }
func (h HourAngle) Range24() HourAngle           { return h.with(Range24(h.sx.value)) }
func (h HourAngle) Range12() HourAngle           { return h.with(Range12(h.sx.value)) }
func (h HourAngle) AddHours(v float64) HourAngle { return h.with(h.sx.value + v) }

func (h HourAngle) with(v float64) HourAngle {
	return HourAngle{sx: newSexagesimal(v, h.sx.format)}
}

func (h HourAngle) String() string {
	return h.sx.format.render(h.sx.value, unitHours)
}
