package skywatcher

import (
	"fmt"
	"math"
)

// SiderealRate is the apparent rotation of the sky in radians per second.
const SiderealRate = 2 * math.Pi / 86164.09065

// Motion is the primary state of an axis. Exactly one applies at a time.
type Motion int

const (
	Stopped Motion = iota
	Slewing
	GotoInProgress
)

func (m Motion) String() string {
	switch m {
	case Stopped:
		return "stopped"
	case Slewing:
		return "slewing"
	case GotoInProgress:
		return "goto"
	}
	return fmt.Sprintf("motion(%d)", int(m))
}

// AxisState is the last known state of one axis. Forward and HighSpeed
// only describe a moving axis; Tracking only applies while Slewing.
type AxisState struct {
	Motion         Motion
	Forward        bool
	HighSpeed      bool
	Tracking       bool
	TrackingRate   TrackingRate
	NotInitialized bool
}

func (s AxisState) FullStop() bool  { return s.Motion == Stopped }
func (s AxisState) Slewing() bool   { return s.Motion == Slewing }
func (s AxisState) SlewingTo() bool { return s.Motion == GotoInProgress }

func (s AxisState) String() string {
	if s.Motion == Stopped {
		return s.Motion.String()
	}
	dir := "forward"
	if !s.Forward {
		dir = "reverse"
	}
	out := fmt.Sprintf("%v %s", s.Motion, dir)
	if s.HighSpeed {
		out += " high-speed"
	}
	if s.Tracking {
		out += fmt.Sprintf(" tracking %v", s.TrackingRate)
	}
	return out
}

func stoppedState() AxisState { return AxisState{Motion: Stopped} }

func slewingState(forward, highSpeed bool) AxisState {
	return AxisState{Motion: Slewing, Forward: forward, HighSpeed: highSpeed}
}

func gotoState(forward, highSpeed bool) AxisState {
	return AxisState{Motion: GotoInProgress, Forward: forward, HighSpeed: highSpeed}
}

func trackingState(forward bool, rate TrackingRate) AxisState {
	return AxisState{Motion: Slewing, Forward: forward, Tracking: true, TrackingRate: rate}
}

// decodeStatus interprets the three nibbles of an 'f' response.
func decodeStatus(n []int) (AxisState, error) {
	if len(n) != 3 {
		return AxisState{}, fmt.Errorf("%w: status has %d nibbles", ErrFraming, len(n))
	}
	s := AxisState{
		Forward:        n[0]&2 == 0,
		HighSpeed:      n[0]&4 != 0,
		NotInitialized: n[2]&1 == 0,
	}
	switch {
	case n[1]&1 == 0:
		s = AxisState{Motion: Stopped, NotInitialized: s.NotInitialized}
	case n[0]&1 != 0:
		s.Motion = Slewing
	default:
		s.Motion = GotoInProgress
	}
	return s, nil
}

type TrackingRate int

const (
	Sidereal TrackingRate = iota
	Lunar
	Solar
	King
)

// siderealArcsec is the sidereal rate in arcseconds per second of time.
const siderealArcsec = 15.041067

// Ratio is the rate relative to sidereal.
func (r TrackingRate) Ratio() float64 {
	switch r {
	case Lunar:
		return 14.685 / siderealArcsec
	case Solar:
		return 15.0 / siderealArcsec
	case King:
		return 15.0369 / siderealArcsec
	}
	return 1
}

// RadiansPerSecond is the axis rate for this tracking rate.
func (r TrackingRate) RadiansPerSecond() float64 {
	return r.Ratio() * SiderealRate
}

func (r TrackingRate) String() string {
	switch r {
	case Sidereal:
		return "sidereal"
	case Lunar:
		return "lunar"
	case Solar:
		return "solar"
	case King:
		return "king"
	}
	return fmt.Sprintf("rate(%d)", int(r))
}

// ParseTrackingRate accepts the names returned by String.
func ParseTrackingRate(s string) (TrackingRate, error) {
	for _, r := range []TrackingRate{Sidereal, Lunar, Solar, King} {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown tracking rate %q", s)
}
