package skywatcher

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// board answers like an EQ6 class controller reporting version.
func board(version string) func(string) (string, bool) {
	return func(frame string) (string, bool) {
		switch frame[1] {
		case 'e':
			return "=" + version, true
		case 'a':
			return "=00B289", true // 9024000
		case 'b':
			return "=A7FD00", true // 64935
		case 'g':
			return "=10", true
		case 's':
			return "=D5C300", true
		case 'j':
			return "=000080", true
		case 'f':
			return "=101", true
		}
		return "=", true
	}
}

func testConfig() Config {
	return Config{Timeout: 20 * time.Millisecond, Retry: 1, PollInterval: time.Millisecond, PollAttempts: 5}
}

func TestInitializeDerivesCalibration(t *testing.T) {
	c := NewController(testConfig())
	require.NoError(t, c.Initialize(context.Background(), newScriptedPort(board("020400"))))
	defer c.Disconnect()

	assert.Equal(t, int64(0x020400), c.MCVersion())
	cal, err := c.Calibration(AxisDec)
	require.NoError(t, err)
	assert.Equal(t, int64(9024000), cal.StepsPerRevolution)
	assert.Equal(t, int64(64935), cal.StepTimerFreq)
	assert.Equal(t, int64(16), cal.HighSpeedRatio)
	assert.Equal(t, int64(50133), cal.PECPeriod)
	assert.InDelta(t, 9024000/(2*math.Pi), cal.FactorRadToStep, 1e-9)
	assert.InDelta(t, 2*math.Pi/9024000, cal.FactorStepToRad, 1e-18)
	assert.InDelta(t, 64935/cal.FactorRadToStep, cal.FactorRadRateToInt, 1e-12)
	assert.Equal(t, int64(640*SiderealRate*cal.FactorRadToStep), cal.LowSpeedGotoMargin)
	assert.Equal(t, int64(DefaultBreakSteps), cal.BreakSteps)
	for _, axis := range Axes {
		assert.True(t, c.State(axis).FullStop(), "%v axis", axis)
	}
}

func TestGridOverrides(t *testing.T) {
	for _, test := range []struct {
		version string
		want    int64
	}{
		{"021480", 0x162B97},
		{"021482", 0x205318},
		{"021481", 9024000},
	} {
		t.Run(test.version, func(t *testing.T) {
			port := newScriptedPort(board(test.version))
			c := NewController(testConfig())
			require.NoError(t, c.Initialize(context.Background(), port))
			defer c.Disconnect()
			for _, axis := range Axes {
				cal, err := c.Calibration(axis)
				require.NoError(t, err)
				assert.Equal(t, test.want, cal.StepsPerRevolution)
				assert.Equal(t, float64(test.want)/(2*math.Pi), cal.FactorRadToStep)
			}
		})
	}
}

func TestInitializeSequence(t *testing.T) {
	port := newScriptedPort(board("020400"))
	c := NewController(testConfig())
	require.NoError(t, c.Initialize(context.Background(), port))
	defer c.Disconnect()
	assert.Equal(t, []string{
		":e1",
		":a1", ":b1", ":g1", ":s1",
		":a2", ":b2", ":g2", ":s2",
		":j1", ":j2",
		":F1", ":F2",
	}, port.Frames())
}

func TestInitializeToleratesMissingPEC(t *testing.T) {
	b := board("020400")
	port := newScriptedPort(func(f string) (string, bool) {
		if f[1] == 's' {
			return "!0", true
		}
		return b(f)
	})
	c := NewController(testConfig())
	require.NoError(t, c.Initialize(context.Background(), port))
	defer c.Disconnect()
	cal, err := c.Calibration(AxisRA)
	require.NoError(t, err)
	assert.Zero(t, cal.PECPeriod)
}

func TestInitializeRetriedOnce(t *testing.T) {
	b := board("020400")
	dropped := false
	port := newScriptedPort(func(f string) (string, bool) {
		if f == ":e1" && !dropped {
			dropped = true
			return "", false
		}
		return b(f)
	})
	c := NewController(testConfig())
	require.NoError(t, c.Initialize(context.Background(), port))
	defer c.Disconnect()

	n := 0
	for _, f := range port.Frames() {
		if f == ":e1" {
			n++
		}
	}
	assert.Equal(t, 2, n)
}

func TestInitializeFailure(t *testing.T) {
	port := newScriptedPort(func(string) (string, bool) { return "", false })
	c := NewController(testConfig())
	err := c.Initialize(context.Background(), port)

	var cerr *CalibrationError
	require.ErrorAs(t, err, &cerr)
	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, port.isClosed())
	assert.False(t, c.Connected())
	assert.Equal(t, []string{":e1", ":e1"}, port.Frames())

	_, err = c.Calibration(AxisRA)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestInitializeIdempotent(t *testing.T) {
	c := NewController(testConfig())
	require.NoError(t, c.Initialize(context.Background(), newScriptedPort(board("020400"))))
	second := newScriptedPort(board("020400"))
	assert.ErrorIs(t, c.Initialize(context.Background(), second), ErrAlreadyConnected)
	assert.Empty(t, second.Frames())

	require.NoError(t, c.Disconnect())
	assert.ErrorIs(t, c.Disconnect(), ErrNotConnected)
	assert.ErrorIs(t, c.Slew(context.Background(), AxisRA, SiderealRate), ErrNotConnected)
	assert.Equal(t, AxisState{}, c.State(AxisRA))
}

func TestSingleAxisCommandsRejectBoth(t *testing.T) {
	port := newScriptedPort(board("020400"))
	c := NewController(testConfig())
	require.NoError(t, c.Initialize(context.Background(), port))
	defer c.Disconnect()
	before := len(port.Frames())

	ctx := context.Background()
	assert.ErrorIs(t, c.Slew(ctx, AxisBoth, SiderealRate), ErrBadAxis)
	assert.ErrorIs(t, c.SlewTo(ctx, AxisBoth, 1), ErrBadAxis)
	_, err := c.QueryStatus(ctx, AxisBoth)
	assert.ErrorIs(t, err, ErrBadAxis)
	assert.Len(t, port.Frames(), before)

	require.NoError(t, c.Stop(ctx, AxisBoth))
	assert.Equal(t, []string{":K1", ":K2"}, port.Frames()[before:])
}

func TestSlewBelowMinimumStops(t *testing.T) {
	port := newScriptedPort(board("020400"))
	c := NewController(testConfig())
	require.NoError(t, c.Initialize(context.Background(), port))
	defer c.Disconnect()
	before := len(port.Frames())

	require.NoError(t, c.Slew(context.Background(), AxisRA, SiderealRate/2000))
	assert.True(t, c.State(AxisRA).FullStop())
	for _, f := range port.Frames()[before:] {
		assert.False(t, strings.HasPrefix(f, ":G"), "sent motion mode %q", f)
	}
}

func TestTransportFailureKeepsState(t *testing.T) {
	b := board("020400")
	fail := false
	port := newScriptedPort(func(f string) (string, bool) {
		if fail {
			return "", false
		}
		return b(f)
	})
	cfg := testConfig()
	cfg.Retry = 2
	c := NewController(cfg)
	require.NoError(t, c.Initialize(context.Background(), port))
	defer c.Disconnect()

	ctx := context.Background()
	require.NoError(t, c.Slew(ctx, AxisDec, 10*SiderealRate))
	before := c.State(AxisDec)
	require.True(t, before.Slewing())

	port.mu.Lock()
	fail = true
	port.mu.Unlock()
	err := c.Slew(ctx, AxisDec, 2*SiderealRate)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 2, terr.Attempts)
	assert.Equal(t, before, c.State(AxisDec))
}

func TestStepPeriod(t *testing.T) {
	cal, err := newCalibration(9024000, 64935, 16, 0)
	require.NoError(t, err)

	low := 10 * SiderealRate
	assert.Equal(t, int64(cal.FactorRadRateToInt/low), cal.stepPeriod(low, false, 0x020400))
	assert.Equal(t, cal.stepPeriod(-low, false, 0x020400), cal.stepPeriod(low, false, 0x020400))

	high := 800 * SiderealRate
	want := int64(cal.FactorRadRateToInt / (high / 16))
	assert.Equal(t, want, cal.stepPeriod(high, true, 0x020400))
	assert.Equal(t, want-3, cal.stepPeriod(high, true, 0x010600))
	assert.Equal(t, want-3, cal.stepPeriod(high, true, 0x010601))

	// Too fast for the timer.
	assert.Equal(t, int64(minStepPeriod), cal.stepPeriod(high, false, 0x020400))
}

func TestNewCalibrationRejectsZero(t *testing.T) {
	_, err := newCalibration(0, 64935, 16, 0)
	assert.Error(t, err)
	_, err = newCalibration(9024000, 0, 16, 0)
	assert.Error(t, err)
}

func TestShortestDelta(t *testing.T) {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	for _, test := range []struct {
		current, target, want float64
	}{
		{10, 350, -20},
		{350, 10, 20},
		{10, 20, 10},
		{20, 10, -10},
		{0, 180, 180},
		{90, 90, 0},
	} {
		got := ShortestDelta(rad(test.current), rad(test.target))
		assert.InDelta(t, rad(test.want), got, 1e-12, "%v -> %v", test.current, test.target)
	}
}

func TestTrackingRates(t *testing.T) {
	assert.Equal(t, 1.0, Sidereal.Ratio())
	assert.InDelta(t, 14.685/15.041067, Lunar.Ratio(), 1e-15)
	assert.InDelta(t, 15.0/15.041067, Solar.Ratio(), 1e-15)
	assert.InDelta(t, 15.0369/15.041067, King.Ratio(), 1e-15)
	for _, r := range []TrackingRate{Sidereal, Lunar, Solar, King} {
		got, err := ParseTrackingRate(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseTrackingRate("martian")
	assert.Error(t, err)
}
