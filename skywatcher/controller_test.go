package skywatcher_test

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/w1xm/skywatcher/coord"
	"github.com/w1xm/skywatcher/skywatcher"
	"github.com/w1xm/skywatcher/skywatcher/simulator"
)

// simSteps divides evenly into whole degrees.
const simSteps = 9331200

func simConfig() simulator.Config {
	cfg := simulator.DefaultConfig()
	cfg.Steps = simSteps
	return cfg
}

func stepsFor(deg float64) int64 {
	return int64(math.Round(deg / 360 * simSteps))
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }

func hex24(v int64) string {
	return fmt.Sprintf("%02X%02X%02X", v&0xFF, (v>>8)&0xFF, (v>>16)&0xFF)
}

func startSimulator(t *testing.T, simCfg simulator.Config, cfg skywatcher.Config) (*simulator.Simulator, *skywatcher.Controller) {
	t.Helper()
	sim, conn := simulator.New(simCfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(done)
	}()
	if cfg.Timeout == 0 {
		cfg.Timeout = 200 * time.Millisecond
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	c := skywatcher.NewController(cfg)
	require.NoError(t, c.Initialize(ctx, conn))
	t.Cleanup(func() {
		c.Disconnect()
		cancel()
		<-done
	})
	return sim, c
}

// since returns the frames received after the first n.
func since(sim *simulator.Simulator, n int) []string {
	return sim.Commands()[n:]
}

func TestSlewToTakesShortestPath(t *testing.T) {
	sim, c := startSimulator(t, simConfig(), skywatcher.Config{})
	sim.SetPosition(0, stepsFor(10))
	n := len(sim.Commands())

	require.NoError(t, c.SlewTo(context.Background(), skywatcher.AxisRA, rad(350)))

	assert.Equal(t, []string{
		":j1",
		":G101", // high speed goto, reverse
		":H1" + hex24(stepsFor(20)),
		":M1" + hex24(skywatcher.DefaultBreakSteps),
		":J1",
	}, since(sim, n))
	st := c.State(skywatcher.AxisRA)
	assert.True(t, st.SlewingTo())
	assert.False(t, st.Forward)
	assert.True(t, st.HighSpeed)
}

func TestSlewToStopsBeforeReadingPosition(t *testing.T) {
	sim, c := startSimulator(t, simConfig(), skywatcher.Config{})
	ctx := context.Background()
	require.NoError(t, c.Slew(ctx, skywatcher.AxisRA, 100*skywatcher.SiderealRate))
	time.Sleep(50 * time.Millisecond)
	n := len(sim.Commands())

	require.NoError(t, c.SlewTo(ctx, skywatcher.AxisRA, rad(40)))
	got := since(sim, n)
	require.NotEmpty(t, got)
	assert.Equal(t, ":K1", got[0])
	read := -1
	for i, f := range got {
		if f == ":j1" {
			read = i
		}
	}
	require.Greater(t, read, 0)
	assert.Contains(t, got[:read], ":f1", "position read before the axis stopped")

	require.Eventually(t, func() bool {
		st, err := c.QueryStatus(ctx, skywatcher.AxisRA)
		return err == nil && st.FullStop()
	}, 5*time.Second, 10*time.Millisecond)
	assert.InDelta(t, stepsFor(40), sim.Position(0), 1)
}

func TestSlewToZeroDeltaIsNoop(t *testing.T) {
	sim, c := startSimulator(t, simConfig(), skywatcher.Config{})
	sim.SetPosition(1, stepsFor(10))
	before := c.State(skywatcher.AxisDec)
	n := len(sim.Commands())

	require.NoError(t, c.SlewTo(context.Background(), skywatcher.AxisDec, rad(10)))

	assert.Equal(t, []string{":j2"}, since(sim, n))
	assert.Equal(t, before, c.State(skywatcher.AxisDec))
}

func TestLowSpeedGotoCompletes(t *testing.T) {
	sim, c := startSimulator(t, simConfig(), skywatcher.Config{})
	sim.SetPosition(0, stepsFor(10))
	ctx := context.Background()
	n := len(sim.Commands())

	require.NoError(t, c.SlewTo(ctx, skywatcher.AxisRA, rad(10.1)))
	assert.Contains(t, since(sim, n), ":G120")

	require.Eventually(t, func() bool {
		st, err := c.QueryStatus(ctx, skywatcher.AxisRA)
		return err == nil && st.FullStop()
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, stepsFor(10.1), sim.Position(0))
	pos, err := c.AxisPosition(ctx, skywatcher.AxisRA)
	require.NoError(t, err)
	assert.InDelta(t, rad(10.1), pos, 2*math.Pi/simSteps)
}

func TestSlewReversalStopsFirst(t *testing.T) {
	sim, c := startSimulator(t, simConfig(), skywatcher.Config{})
	ctx := context.Background()

	require.NoError(t, c.Slew(ctx, skywatcher.AxisRA, 10*skywatcher.SiderealRate))
	assert.True(t, sim.Running(0))
	n := len(sim.Commands())

	require.NoError(t, c.Slew(ctx, skywatcher.AxisRA, -10*skywatcher.SiderealRate))
	got := since(sim, n)
	require.NotEmpty(t, got)
	assert.Equal(t, ":K1", got[0])
	assert.Contains(t, got, ":f1")
	assert.Equal(t, ":G111", got[len(got)-3])
	assert.True(t, strings.HasPrefix(got[len(got)-2], ":I1"))
	assert.Equal(t, ":J1", got[len(got)-1])

	st := c.State(skywatcher.AxisRA)
	assert.True(t, st.Slewing())
	assert.False(t, st.Forward)
	assert.True(t, sim.Running(0))
}

func TestSlewSameDirectionAdjustsPeriod(t *testing.T) {
	sim, c := startSimulator(t, simConfig(), skywatcher.Config{})
	ctx := context.Background()

	require.NoError(t, c.Slew(ctx, skywatcher.AxisDec, 10*skywatcher.SiderealRate))
	n := len(sim.Commands())
	require.NoError(t, c.Slew(ctx, skywatcher.AxisDec, 20*skywatcher.SiderealRate))
	got := since(sim, n)
	require.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0], ":I2"))
}

func TestHighSpeedSlewClamped(t *testing.T) {
	sim, c := startSimulator(t, simConfig(), skywatcher.Config{})
	ctx := context.Background()
	cal, err := c.Calibration(skywatcher.AxisDec)
	require.NoError(t, err)
	n := len(sim.Commands())

	require.NoError(t, c.Slew(ctx, skywatcher.AxisDec, 1000*skywatcher.SiderealRate))

	period := int64(cal.FactorRadRateToInt / (skywatcher.MaxRate / float64(cal.HighSpeedRatio)))
	assert.Equal(t, []string{":G230", ":I2" + hex24(period), ":J2"}, since(sim, n))
	assert.True(t, c.State(skywatcher.AxisDec).HighSpeed)
}

func TestStartTracking(t *testing.T) {
	for _, test := range []struct {
		hemisphere coord.Hemisphere
		mode       string
		forward    bool
	}{
		{coord.North, ":G110", true},
		{coord.South, ":G113", false},
	} {
		t.Run(test.hemisphere.String(), func(t *testing.T) {
			sim, c := startSimulator(t, simConfig(), skywatcher.Config{Hemisphere: test.hemisphere})
			ctx := context.Background()
			cal, err := c.Calibration(skywatcher.AxisRA)
			require.NoError(t, err)
			n := len(sim.Commands())

			require.NoError(t, c.StartTracking(ctx, skywatcher.Sidereal, test.hemisphere, true))

			period := int64(cal.FactorRadRateToInt / skywatcher.SiderealRate)
			assert.Equal(t, []string{test.mode, ":I1" + hex24(period), ":J1"}, since(sim, n))

			st, err := c.QueryStatus(ctx, skywatcher.AxisRA)
			require.NoError(t, err)
			assert.True(t, st.Slewing())
			assert.True(t, st.Tracking)
			assert.Equal(t, skywatcher.Sidereal, st.TrackingRate)
			assert.Equal(t, test.forward, st.Forward)

			require.NoError(t, c.StopTracking(ctx))
			assert.True(t, c.State(skywatcher.AxisRA).FullStop())
		})
	}
}

func TestRetriesAgainstSimulator(t *testing.T) {
	sim, c := startSimulator(t, simConfig(), skywatcher.Config{Timeout: 100 * time.Millisecond, Retry: 2})
	ctx := context.Background()

	sim.DropResponses(1)
	_, err := c.AxisPosition(ctx, skywatcher.AxisRA)
	require.NoError(t, err)

	sim.DropResponses(2)
	_, err = c.AxisPosition(ctx, skywatcher.AxisRA)
	var terr *skywatcher.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 2, terr.Attempts)
	assert.ErrorIs(t, err, skywatcher.ErrTimeout)
}

func TestSetAxisPosition(t *testing.T) {
	sim, c := startSimulator(t, simConfig(), skywatcher.Config{})
	ctx := context.Background()

	require.NoError(t, c.SetAxisPosition(ctx, skywatcher.AxisDec, rad(90)))
	assert.Equal(t, stepsFor(90), sim.Position(1))

	ra, dec, err := c.AxisPositions(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0, ra, 1e-12)
	assert.InDelta(t, rad(90), dec, 1e-9)
}

func TestBusyIsProtocolError(t *testing.T) {
	sim, c := startSimulator(t, simConfig(), skywatcher.Config{})
	ctx := context.Background()
	require.NoError(t, c.Slew(ctx, skywatcher.AxisRA, 10*skywatcher.SiderealRate))
	require.True(t, sim.Running(0))

	// Redefining the position of a moving axis is refused by the board.
	err := c.SetAxisPosition(ctx, skywatcher.AxisRA, 0)
	var perr *skywatcher.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, skywatcher.MotorBusy, perr.Code)
}

func TestConcurrentCallers(t *testing.T) {
	_, c := startSimulator(t, simConfig(), skywatcher.Config{})
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			for j := 0; j < 5; j++ {
				if _, _, err := c.AxisPositions(ctx); err != nil {
					return err
				}
				if _, err := c.QueryStatus(ctx, skywatcher.AxisDec); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
