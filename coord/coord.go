// Package coord holds the sky and mount coordinate records built from
// angle values, plus sidereal time and the equatorial/horizontal transform.
package coord

import (
	"fmt"
	"math"
	"time"

	"github.com/w1xm/skywatcher/angle"
)

type Hemisphere int

const (
	North Hemisphere = iota
	South
)

func (h Hemisphere) String() string {
	if h == South {
		return "south"
	}
	return "north"
}

// HemisphereOf returns South for negative latitudes.
func HemisphereOf(latitude float64) Hemisphere {
	if latitude < 0 {
		return South
	}
	return North
}

// Site is the observatory location. Latitude and Longitude are in degrees,
// east positive; Elevation is in meters.
type Site struct {
	Latitude  float64
	Longitude float64
	Elevation float64
}

func (s Site) Hemisphere() Hemisphere {
	return HemisphereOf(s.Latitude)
}

// LocalSiderealTime at this site for instant t.
func (s Site) LocalSiderealTime(t time.Time) angle.HourAngle {
	return LocalSiderealTime(t, s.Longitude)
}

// Equatorial is a right ascension / declination pair.
type Equatorial struct {
	RA  angle.HourAngle
	Dec angle.Angle
}

func NewEquatorial(raHours, decDegrees float64) Equatorial {
	return Equatorial{RA: angle.NewHours(angle.Range24(raHours)), Dec: angle.New(decDegrees)}
}

func (e Equatorial) Equal(o Equatorial) bool {
	return math.Abs(angle.Range12(e.RA.Hours()-o.RA.Hours())) <= angle.Epsilon && e.Dec.Equal(o.Dec)
}

func (e Equatorial) String() string {
	return fmt.Sprintf("RA %v Dec %v", e.RA.WithFormat(angle.DMS), e.Dec.WithFormat(angle.DMS))
}

// AltAzimuth is a horizon coordinate. Azimuth is measured from north
// through east.
type AltAzimuth struct {
	Alt angle.Angle
	Az  angle.Angle
}

func NewAltAzimuth(altDegrees, azDegrees float64) AltAzimuth {
	return AltAzimuth{Alt: angle.New(altDegrees), Az: angle.New(angle.Range360(azDegrees))}
}

func (a AltAzimuth) String() string {
	return fmt.Sprintf("Alt %v Az %v", a.Alt.WithFormat(angle.DMS), a.Az.WithFormat(angle.DMS))
}

// AxisPosition is a raw mount position: the RA and Dec axis angles, both
// kept in [0, 360), and which of the two equivalent encoder solutions is
// in effect.
type AxisPosition struct {
	RA         angle.Angle
	Dec        angle.Angle
	DecFlipped bool
}

// NewAxisPosition range-reduces both axis angles (in degrees).
func NewAxisPosition(ra, dec float64, decFlipped bool) AxisPosition {
	return AxisPosition{
		RA:         angle.New(angle.Range360(ra)),
		Dec:        angle.New(angle.Range360(dec)),
		DecFlipped: decFlipped,
	}
}

// AxisPositionFromRadians builds a position from controller readings.
func AxisPositionFromRadians(ra, dec float64, decFlipped bool) AxisPosition {
	return NewAxisPosition(angle.Deg(ra), angle.Deg(dec), decFlipped)
}

func (p AxisPosition) Add(o AxisPosition) AxisPosition {
	return NewAxisPosition(p.RA.Degrees()+o.RA.Degrees(), p.Dec.Degrees()+o.Dec.Degrees(), p.DecFlipped)
}

func (p AxisPosition) Sub(o AxisPosition) AxisPosition {
	return NewAxisPosition(p.RA.Degrees()-o.RA.Degrees(), p.Dec.Degrees()-o.Dec.Degrees(), p.DecFlipped)
}

// Equal compares the axis angles modulo 360, so 359.9999999999 equals 0.
// The flip flag is not compared.
func (p AxisPosition) Equal(o AxisPosition) bool {
	return math.Abs(angle.Range180(p.RA.Degrees()-o.RA.Degrees())) <= angle.Epsilon &&
		math.Abs(angle.Range180(p.Dec.Degrees()-o.Dec.Degrees())) <= angle.Epsilon
}

func (p AxisPosition) String() string {
	return fmt.Sprintf("RA axis %v Dec axis %v flipped=%t", p.RA, p.Dec, p.DecFlipped)
}

// MountCoordinate couples the sky position of the mount with the axis
// position it was derived from. Equatorial and AltAzimuth always refer to
// SyncTime.
type MountCoordinate struct {
	Equatorial        Equatorial
	AltAzimuth        AltAzimuth
	ObservedAxes      AxisPosition
	Hemisphere        Hemisphere
	SyncTime          time.Time
	LocalSiderealTime angle.HourAngle

	site Site
}

// NewMountCoordinate snapshots eq at instant t and derives the horizon
// coordinate for the site.
func NewMountCoordinate(site Site, eq Equatorial, axes AxisPosition, t time.Time) MountCoordinate {
	m := MountCoordinate{
		ObservedAxes: axes,
		Hemisphere:   site.Hemisphere(),
		site:         site,
	}
	m.SetEquatorial(eq, t)
	return m
}

// SetEquatorial replaces the equatorial coordinate and recomputes the
// horizon coordinate at t.
func (m *MountCoordinate) SetEquatorial(eq Equatorial, t time.Time) {
	m.SyncTime = t
	m.LocalSiderealTime = m.site.LocalSiderealTime(t)
	m.Equatorial = eq
	m.AltAzimuth = ToAltAz(eq, m.LocalSiderealTime, m.site.Latitude)
}

// SetAltAzimuth replaces the horizon coordinate and recomputes the
// equatorial coordinate at t.
func (m *MountCoordinate) SetAltAzimuth(aa AltAzimuth, t time.Time) {
	m.SyncTime = t
	m.LocalSiderealTime = m.site.LocalSiderealTime(t)
	m.AltAzimuth = aa
	m.Equatorial = ToEquatorial(aa, m.LocalSiderealTime, m.site.Latitude)
}

// Refresh re-evaluates the horizon coordinate of the same equatorial
// position at a later instant.
func (m *MountCoordinate) Refresh(axes AxisPosition, t time.Time) {
	m.ObservedAxes = axes
	m.SetEquatorial(m.Equatorial, t)
}
