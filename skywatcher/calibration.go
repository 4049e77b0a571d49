package skywatcher

import (
	"fmt"
	"math"
)

const (
	// MaxRate is the fastest slew accepted, 800x sidereal.
	MaxRate = 800 * SiderealRate
	// MinRate is the slowest slew; anything below stops the axis.
	MinRate = SiderealRate / 1000
	// Rates above highSpeedThreshold use the controller's high speed mode.
	highSpeedThreshold = 128 * SiderealRate

	// DefaultBreakSteps is the deceleration distance for gotos.
	DefaultBreakSteps = 3500

	minStepPeriod = 6
)

// Gear ratio overrides for boards that report a wrong grid per revolution.
var gridOverrides = map[int]int64{
	0x80: 0x162B97,
	0x82: 0x205318,
}

// Calibration converts between radians and motor steps for one axis.
type Calibration struct {
	StepsPerRevolution int64
	StepTimerFreq      int64
	HighSpeedRatio     int64
	PECPeriod          int64

	FactorRadToStep    float64
	FactorStepToRad    float64
	FactorRadRateToInt float64

	// LowSpeedGotoMargin is the step count above which a goto runs at
	// high speed: 5 seconds of travel at 128x sidereal.
	LowSpeedGotoMargin int64
	BreakSteps         int64

	LowSpeedSlewRate  float64
	HighSpeedSlewRate float64
}

func newCalibration(steps, freq, ratio, pec int64) (Calibration, error) {
	if steps <= 0 || freq <= 0 || ratio <= 0 {
		return Calibration{}, fmt.Errorf("implausible controller parameters: steps=%d freq=%d ratio=%d", steps, freq, ratio)
	}
	c := Calibration{
		StepsPerRevolution: steps,
		StepTimerFreq:      freq,
		HighSpeedRatio:     ratio,
		PECPeriod:          pec,
		FactorRadToStep:    float64(steps) / (2 * math.Pi),
		FactorStepToRad:    2 * math.Pi / float64(steps),
		BreakSteps:         DefaultBreakSteps,
		LowSpeedSlewRate:   64 * SiderealRate,
		HighSpeedSlewRate:  MaxRate,
	}
	c.FactorRadRateToInt = float64(freq) / c.FactorRadToStep
	c.LowSpeedGotoMargin = int64(640 * SiderealRate * c.FactorRadToStep)
	return c, nil
}

// Steps converts an angle in radians to a step count.
func (c Calibration) Steps(rad float64) int64 {
	return int64(math.Round(rad * c.FactorRadToStep))
}

// Radians converts a step count to an angle.
func (c Calibration) Radians(steps int64) float64 {
	return float64(steps) * c.FactorStepToRad
}

// stepPeriod returns the 'I' value for rate (radians per second) on a
// controller with the given firmware version.
func (c Calibration) stepPeriod(rate float64, highSpeed bool, mcVersion int64) int64 {
	speed := math.Abs(rate)
	if highSpeed {
		speed /= float64(c.HighSpeedRatio)
	}
	period := int64(c.FactorRadRateToInt / speed)
	if mcVersion == 0x010600 || mcVersion == 0x010601 {
		period -= 3
	}
	if period < minStepPeriod {
		period = minStepPeriod
	}
	return period
}
