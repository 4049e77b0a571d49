package mount

import (
	"context"
	"sync"
	"time"

	"github.com/w1xm/skywatcher/angle"
	"github.com/w1xm/skywatcher/coord"
	"github.com/w1xm/skywatcher/internal/logging"
)

// PierSide is the side of the pier the optical tube sits on.
type PierSide int

const (
	PierUnknown PierSide = iota
	PierEast
	PierWest
)

func (p PierSide) String() string {
	switch p {
	case PierEast:
		return "east"
	case PierWest:
		return "west"
	}
	return "unknown"
}

func (p PierSide) opposite() PierSide {
	switch p {
	case PierEast:
		return PierWest
	case PierWest:
		return PierEast
	}
	return p
}

// targetHourAngle is RA - LST in (-12, 12]; negative west of the meridian.
func targetHourAngle(ra, lst angle.HourAngle) float64 {
	return angle.Range12(ra.Hours() - lst.Hours())
}

// trackingForward is the RA axis direction that holds a star in the
// north, where the axis angle 15*(RA-LST+6) falls as LST rises. The
// controller reverses it in the south, where the angle rises instead.
const trackingForward = false

// TargetAxisPosition computes the axis angles that point the mount at
// ra/dec when the local sidereal time is lst. Targets west of the meridian
// use the flipped solution; forceMeridianFlip selects the other one.
func TargetAxisPosition(eq coord.Equatorial, lst angle.HourAngle, h coord.Hemisphere, forceMeridianFlip bool) coord.AxisPosition {
	ha := targetHourAngle(eq.RA, lst)
	flipped := (ha < 0) != forceMeridianFlip
	dec := eq.Dec.Degrees()

	var raAxis, decAxis float64
	if h == coord.South {
		if flipped {
			ha -= 12
			decAxis = 270 - dec
		} else {
			decAxis = 90 + dec
		}
		raAxis = 15 * (6 - ha)
	} else {
		if flipped {
			ha += 12
			decAxis = 270 + dec
		} else {
			decAxis = 90 - dec
		}
		raAxis = 15 * (ha + 6)
	}
	return coord.NewAxisPosition(raAxis, decAxis, flipped)
}

// ObservedEquatorial recovers the sky position the axes point at.
func ObservedEquatorial(axes coord.AxisPosition, lst angle.HourAngle, h coord.Hemisphere) coord.Equatorial {
	raAxis := axes.RA.Degrees()
	decAxis := axes.Dec.Degrees()

	var ha, dec float64
	if h == coord.South {
		ha = 6 - raAxis/15
		if axes.DecFlipped {
			ha += 12
			dec = 270 - decAxis
		} else {
			dec = decAxis - 90
		}
	} else {
		ha = raAxis/15 - 6
		if axes.DecFlipped {
			ha -= 12
			dec = decAxis - 270
		} else {
			dec = 90 - decAxis
		}
	}
	return coord.NewEquatorial(ha+lst.Hours(), angle.Range180(dec))
}

func orient(side PierSide, h coord.Hemisphere, swap bool) PierSide {
	if swap {
		side = side.opposite()
	}
	if h == coord.South {
		side = side.opposite()
	}
	return side
}

// PointingSideOfPier derives the side of pier from the Dec axis angle: the
// flipped half of the Dec circle means the tube is east of the pier.
func PointingSideOfPier(axes coord.AxisPosition, h coord.Hemisphere, swap bool) PierSide {
	side := PierWest
	if axes.Dec.Degrees() > 180 {
		side = PierEast
	}
	return orient(side, h, swap)
}

// PhysicalSideOfPier derives the side of pier from the target hour angle
// (RA - LST). Targets east of the meridian are observed from the west.
func PhysicalSideOfPier(ha float64, h coord.Hemisphere, swap bool) PierSide {
	side := PierEast
	if ha >= 0 {
		side = PierWest
	}
	return orient(side, h, swap)
}

// Mapper converts between sky and axis coordinates for one site and keeps
// track of which Dec solution the mount is currently in.
type Mapper struct {
	site coord.Site
	swap bool
	now  func() time.Time
	log  logging.Logger

	mu         sync.Mutex
	decFlipped bool
	pointing   PierSide
}

func NewMapper(site coord.Site, swapSideOfPier bool, now func() time.Time, log logging.Logger) *Mapper {
	if now == nil {
		now = time.Now
	}
	return &Mapper{site: site, swap: swapSideOfPier, now: now, log: logging.OrNoop(log)}
}

func (m *Mapper) Site() coord.Site { return m.site }

func (m *Mapper) Hemisphere() coord.Hemisphere { return m.site.Hemisphere() }

func (m *Mapper) LocalSiderealTime() angle.HourAngle {
	return m.site.LocalSiderealTime(m.now())
}

// Target returns the axis position for eq at the current sidereal time.
func (m *Mapper) Target(eq coord.Equatorial, forceMeridianFlip bool) coord.AxisPosition {
	return TargetAxisPosition(eq, m.LocalSiderealTime(), m.Hemisphere(), forceMeridianFlip)
}

// PhysicalSide returns the side of pier a goto to eq would end on.
func (m *Mapper) PhysicalSide(eq coord.Equatorial) PierSide {
	return PhysicalSideOfPier(targetHourAngle(eq.RA, m.LocalSiderealTime()), m.Hemisphere(), m.swap)
}

// DecFlipped reports the Dec solution currently assumed.
func (m *Mapper) DecFlipped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decFlipped
}

// Assume records that the mount was commanded to, or synced at, axes.
func (m *Mapper) Assume(axes coord.AxisPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decFlipped = axes.DecFlipped
	m.pointing = PointingSideOfPier(axes, m.Hemisphere(), m.swap)
}

// Refresh interprets freshly read axis angles. If the pointing side of
// pier changed while no goto was running, the Dec axis crossed the pole
// and the flip state is toggled.
func (m *Mapper) Refresh(ctx context.Context, axes coord.AxisPosition, gotoActive bool) coord.MountCoordinate {
	t := m.now()
	h := m.Hemisphere()

	m.mu.Lock()
	side := PointingSideOfPier(axes, h, m.swap)
	switch {
	case m.pointing == PierUnknown:
		// Both hemispheres keep the flipped solution in the upper half.
		m.decFlipped = axes.Dec.Degrees() > 180
		m.pointing = side
	case gotoActive:
		// Assume already recorded where the goto ends.
	case side != m.pointing:
		m.decFlipped = !m.decFlipped
		m.log.Info(ctx, "meridian crossing",
			logging.String("from", m.pointing.String()),
			logging.String("to", side.String()),
			logging.Any("decFlipped", m.decFlipped))
		m.pointing = side
	}
	axes.DecFlipped = m.decFlipped
	m.mu.Unlock()

	lst := m.site.LocalSiderealTime(t)
	eq := ObservedEquatorial(axes, lst, h)
	return coord.NewMountCoordinate(m.site, eq, axes, t)
}
