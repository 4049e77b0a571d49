package coord

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w1xm/skywatcher/angle"
)

func TestAxisPositionRangeReduced(t *testing.T) {
	p := NewAxisPosition(370, -10, true)
	assert.InDelta(t, 10, p.RA.Degrees(), 1e-12)
	assert.InDelta(t, 350, p.Dec.Degrees(), 1e-12)
	assert.True(t, p.DecFlipped)

	p = NewAxisPosition(360, 720, false)
	assert.Equal(t, 0.0, p.RA.Degrees())
	assert.Equal(t, 0.0, p.Dec.Degrees())
}

func TestAxisPositionArithmeticWraps(t *testing.T) {
	a := NewAxisPosition(350, 10, false)
	b := NewAxisPosition(20, 30, false)
	sum := a.Add(b)
	assert.InDelta(t, 10, sum.RA.Degrees(), 1e-12)
	assert.InDelta(t, 40, sum.Dec.Degrees(), 1e-12)
	diff := b.Sub(a)
	assert.InDelta(t, 30, diff.RA.Degrees(), 1e-12)
	assert.InDelta(t, 20, diff.Dec.Degrees(), 1e-12)
}

func TestAxisPositionEqualWrapAware(t *testing.T) {
	a := AxisPosition{RA: angle.New(359.9999999999), Dec: angle.New(90)}
	b := NewAxisPosition(0, 90, false)
	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))
	assert.False(t, b.Equal(NewAxisPosition(0.001, 90, false)))
}

func TestHemisphere(t *testing.T) {
	assert.Equal(t, North, Site{Latitude: 42.36}.Hemisphere())
	assert.Equal(t, North, HemisphereOf(0))
	assert.Equal(t, South, Site{Latitude: -33.9}.Hemisphere())
}

func TestGreenwichSiderealTime(t *testing.T) {
	j2000 := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, J2000, JulianDate(j2000))
	assert.InDelta(t, 18.697374558, GreenwichSiderealTime(j2000), 1e-9)

	// One solar day later the sidereal clock has gained about 3m56s.
	next := GreenwichSiderealTime(j2000.Add(24 * time.Hour))
	assert.InDelta(t, 18.697374558+0.0657098244, next, 1e-6)
}

func TestLocalSiderealTime(t *testing.T) {
	now := time.Date(2024, 3, 20, 3, 0, 0, 0, time.UTC)
	gst := GreenwichSiderealTime(now)
	for _, lon := range []float64{0, -71.09, 151.2, 180} {
		lst := LocalSiderealTime(now, lon)
		assert.InDelta(t, angle.Range24(gst+lon/15), lst.Hours(), 1e-12, "longitude %v", lon)
		assert.True(t, lst.Hours() >= 0 && lst.Hours() < 24)
	}
}

func TestToAltAzMeridian(t *testing.T) {
	lst := angle.NewHours(5)
	// Celestial equator on the meridian sits due south at 90-latitude.
	aa := ToAltAz(NewEquatorial(5, 0), lst, 40)
	assert.InDelta(t, 50, aa.Alt.Degrees(), 1e-9)
	assert.InDelta(t, 180, aa.Az.Degrees(), 1e-5)

	// East of the meridian the azimuth is less than 180.
	aa = ToAltAz(NewEquatorial(8, 10), lst, 40)
	assert.Less(t, aa.Az.Degrees(), 180.0)
	// And west of it, more.
	aa = ToAltAz(NewEquatorial(2, 10), lst, 40)
	assert.Greater(t, aa.Az.Degrees(), 180.0)
}

func TestToAltAzCardinalPoints(t *testing.T) {
	lst := angle.NewHours(5)
	for _, test := range []struct {
		name    string
		eq      Equatorial
		lat     float64
		alt, az float64
	}{
		{"pole", NewEquatorial(0, 90), 40, 40, 0},
		{"east point", NewEquatorial(11, 0), 40, 0, 90},
		{"west point", NewEquatorial(23, 0), 40, 0, 270},
		{"zenith", NewEquatorial(5, -30), -30, 90, 0},
		{"southern pole", NewEquatorial(0, -90), -30, 30, 180},
	} {
		aa := ToAltAz(test.eq, lst, test.lat)
		assert.InDelta(t, test.alt, aa.Alt.Degrees(), 1e-6, test.name)
		if test.alt < 89 {
			assert.InDelta(t, 0, angle.Range180(aa.Az.Degrees()-test.az), 1e-6, test.name)
		}
	}
}

func TestAltAzRoundTrip(t *testing.T) {
	lst := angle.NewHours(13.25)
	for _, lat := range []float64{52, 42.36, -33.9} {
		for _, eq := range []Equatorial{
			NewEquatorial(10.25, 20),
			NewEquatorial(16.5, -12.5),
			NewEquatorial(3.1, 65),
			NewEquatorial(13.1, 5),
		} {
			aa := ToAltAz(eq, lst, lat)
			back := ToEquatorial(aa, lst, lat)
			require.InDelta(t, 0, angle.Range12(back.RA.Hours()-eq.RA.Hours()), 1e-8, "lat %v: %v -> %v -> %v", lat, eq, aa, back)
			require.InDelta(t, eq.Dec.Degrees(), back.Dec.Degrees(), 1e-8, "lat %v: %v -> %v -> %v", lat, eq, aa, back)
		}
	}
}

func TestMountCoordinateConsistent(t *testing.T) {
	site := Site{Latitude: 42.36, Longitude: -71.09}
	now := time.Date(2024, 10, 1, 2, 0, 0, 0, time.UTC)
	eq := NewEquatorial(20.69, 45.28)
	m := NewMountCoordinate(site, eq, NewAxisPosition(10, 20, false), now)
	assert.Equal(t, North, m.Hemisphere)
	assert.Equal(t, now, m.SyncTime)
	assert.InDelta(t, LocalSiderealTime(now, site.Longitude).Hours(), m.LocalSiderealTime.Hours(), 1e-12)

	want := ToAltAz(eq, m.LocalSiderealTime, site.Latitude)
	assert.InDelta(t, want.Alt.Degrees(), m.AltAzimuth.Alt.Degrees(), 1e-12)

	later := now.Add(time.Hour)
	m.SetAltAzimuth(m.AltAzimuth, later)
	assert.Equal(t, later, m.SyncTime)
	// The same horizon position an hour later is one sidereal hour later in RA.
	assert.InDelta(t, 0, angle.Range12(m.Equatorial.RA.Hours()-eq.RA.Hours()-1.0027379), 1e-4)
}

func TestHourAngle(t *testing.T) {
	assert.InDelta(t, 2, HourAngle(angle.NewHours(3), angle.NewHours(5)).Hours(), 1e-12)
	assert.InDelta(t, -2, HourAngle(angle.NewHours(23), angle.NewHours(21)).Hours(), 1e-12)
	assert.InDelta(t, 12, HourAngle(angle.NewHours(0), angle.NewHours(12)).Hours(), 1e-12)
}
