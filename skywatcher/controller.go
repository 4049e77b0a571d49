package skywatcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/w1xm/skywatcher/angle"
	"github.com/w1xm/skywatcher/coord"
	"github.com/w1xm/skywatcher/internal/logging"
	"github.com/w1xm/skywatcher/internal/metrics"
)

// Motion modes, the first nibble of a 'G' command.
const (
	modeHighSpeedGoto = 0
	modeLowSpeedSlew  = 1
	modeLowSpeedGoto  = 2
	modeHighSpeedSlew = 3
)

// Positions are reported offset by 0x800000.
const positionOffset = 0x800000

type Config struct {
	Timeout time.Duration
	Retry   int
	// InstantStop selects 'L' over the ramped 'K' stop.
	InstantStop bool
	Hemisphere  coord.Hemisphere
	// PollInterval and PollAttempts bound the wait for an axis to stop.
	PollInterval time.Duration
	PollAttempts int

	Logger  logging.Logger
	Metrics *metrics.ProtocolCollector
}

// Controller drives both axes of one motor controller. All methods are
// safe for concurrent use; composite operations hold the lock throughout.
type Controller struct {
	cfg Config
	log logging.Logger

	mu        sync.Mutex
	proto     *Protocol
	cal       [2]Calibration
	state     [2]AxisState
	mcVersion int64
}

func NewController(cfg Config) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 300
	}
	return &Controller{cfg: cfg, log: logging.OrNoop(cfg.Logger)}
}

// Connect opens a serial port and initializes the controller on it.
func (c *Controller) Connect(ctx context.Context, name string, baud int) error {
	c.mu.Lock()
	connected := c.proto != nil
	c.mu.Unlock()
	if connected {
		return ErrAlreadyConnected
	}
	port, err := OpenSerial(name, baud)
	if err != nil {
		return err
	}
	if err := c.Initialize(ctx, port); err != nil {
		if errors.Is(err, ErrAlreadyConnected) {
			port.Close()
		}
		return err
	}
	c.log.Info(ctx, "connected", logging.String("port", name), logging.Int("baud", baud))
	return nil
}

// Initialize takes ownership of port, inquires the controller parameters
// for both axes and leaves both axes stopped. The sequence is attempted
// twice; on failure the port is closed and a *CalibrationError returned.
func (c *Controller) Initialize(ctx context.Context, port Port) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proto != nil {
		return ErrAlreadyConnected
	}
	c.proto = NewProtocol(port, ProtocolConfig{
		Timeout: c.cfg.Timeout,
		Retry:   c.cfg.Retry,
		Logger:  c.log,
		Metrics: c.cfg.Metrics,
	})
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		if err = c.calibrate(ctx); err == nil {
			c.cfg.Metrics.SetConnected(true)
			return nil
		}
		c.log.Warn(ctx, "initialization failed", logging.Int("attempt", attempt), logging.Err(err))
		if ctx.Err() != nil {
			break
		}
	}
	c.proto.Close()
	c.reset()
	return &CalibrationError{Err: err}
}

func (c *Controller) calibrate(ctx context.Context) error {
	v, err := c.inquire(ctx, AxisRA, 'e')
	if err != nil {
		return fmt.Errorf("inquiring version: %w", err)
	}
	mc := (v&0xFF)<<16 | v&0xFF00 | (v>>16)&0xFF
	mountCode := int(mc & 0xFF)

	var cal [2]Calibration
	for _, axis := range Axes {
		steps, err := c.inquire(ctx, axis, 'a')
		if err != nil {
			return fmt.Errorf("inquiring grid per revolution: %w", err)
		}
		if fixed, ok := gridOverrides[mountCode]; ok {
			steps = fixed
		}
		freq, err := c.inquire(ctx, axis, 'b')
		if err != nil {
			return fmt.Errorf("inquiring timer frequency: %w", err)
		}
		ratio, err := c.inquire(ctx, axis, 'g')
		if err != nil {
			return fmt.Errorf("inquiring high speed ratio: %w", err)
		}
		pec, err := c.inquire(ctx, axis, 's')
		var perr *ProtocolError
		if errors.As(err, &perr) {
			// Boards without PEC support reject the inquiry.
			pec, err = 0, nil
		}
		if err != nil {
			return fmt.Errorf("inquiring PEC period: %w", err)
		}
		if cal[axis], err = newCalibration(steps, freq, ratio, pec); err != nil {
			return fmt.Errorf("%v axis: %w", axis, err)
		}
	}
	for _, axis := range Axes {
		steps, err := c.inquire(ctx, axis, 'j')
		if err != nil {
			return fmt.Errorf("inquiring position: %w", err)
		}
		c.log.Debug(ctx, "axis position",
			logging.String("axis", axis.String()),
			logging.Float("degrees", angle.Deg(angle.Range2Pi(cal[axis].Radians(steps-positionOffset)))))
	}
	for _, axis := range Axes {
		if _, err := c.send(ctx, axis, 'F', nil); err != nil {
			return fmt.Errorf("initializing %v axis: %w", axis, err)
		}
	}
	c.mcVersion = mc
	c.cal = cal
	c.state = [2]AxisState{stoppedState(), stoppedState()}
	c.log.Info(ctx, "controller calibrated",
		logging.String("version", fmt.Sprintf("%06X", mc)),
		logging.Int("ra_steps", int(cal[AxisRA].StepsPerRevolution)),
		logging.Int("dec_steps", int(cal[AxisDec].StepsPerRevolution)))
	return nil
}

// Disconnect closes the port and forgets the calibration.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proto == nil {
		return ErrNotConnected
	}
	err := c.proto.Close()
	c.reset()
	c.cfg.Metrics.SetConnected(false)
	return err
}

func (c *Controller) reset() {
	c.proto = nil
	c.cal = [2]Calibration{}
	c.state = [2]AxisState{}
	c.mcVersion = 0
}

func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proto != nil
}

// MCVersion is the firmware version, e.g. 0x021480 for 2.14 on a mount
// with code 0x80.
func (c *Controller) MCVersion() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mcVersion
}

func (c *Controller) Calibration(axis Axis) (Calibration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(axis); err != nil {
		return Calibration{}, err
	}
	return c.cal[axis], nil
}

// State returns the cached state of axis without querying the controller.
func (c *Controller) State(axis Axis) AxisState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if axis != AxisRA && axis != AxisDec {
		return AxisState{}
	}
	return c.state[axis]
}

func (c *Controller) SetHemisphere(h coord.Hemisphere) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Hemisphere = h
}

// ready checks that axis names a single axis of a calibrated controller.
func (c *Controller) ready(axis Axis) error {
	if axis != AxisRA && axis != AxisDec {
		return ErrBadAxis
	}
	if c.proto == nil {
		return ErrNotConnected
	}
	if c.cal[axis].FactorRadToStep == 0 {
		return ErrNotCalibrated
	}
	return nil
}

func (c *Controller) send(ctx context.Context, axis Axis, cmd byte, params []byte) (Response, error) {
	if c.proto == nil {
		return Response{}, ErrNotConnected
	}
	return c.proto.Send(ctx, axis, cmd, params)
}

func (c *Controller) inquire(ctx context.Context, axis Axis, cmd byte) (int64, error) {
	resp, err := c.send(ctx, axis, cmd, nil)
	if err != nil {
		return 0, err
	}
	return resp.Int()
}

func (c *Controller) setMotionMode(ctx context.Context, axis Axis, mode int, forward bool, hemisphere coord.Hemisphere) error {
	dir := 0
	if !forward {
		dir |= 1
	}
	if hemisphere == coord.South {
		dir |= 2
	}
	_, err := c.send(ctx, axis, 'G', []byte{byte(mode<<4 | dir)})
	return err
}

// Slew moves axis continuously at rate radians per second, clamped to
// MaxRate. Rates below MinRate stop the axis.
func (c *Controller) Slew(ctx context.Context, axis Axis, rate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(axis); err != nil {
		return err
	}
	return c.slew(ctx, axis, rate)
}

func (c *Controller) slew(ctx context.Context, axis Axis, rate float64) error {
	rate = math.Max(-MaxRate, math.Min(MaxRate, rate))
	if math.Abs(rate) < MinRate {
		return c.stop(ctx, axis)
	}
	forward := rate > 0
	highSpeed := math.Abs(rate) > highSpeedThreshold
	cal := c.cal[axis]
	period := cal.stepPeriod(rate, highSpeed, c.mcVersion)

	st := c.state[axis]
	if st.Slewing() && !st.HighSpeed && !highSpeed && st.Forward == forward {
		// Compatible low speed motion: change the period on the fly.
		if _, err := c.send(ctx, axis, 'I', uint24(period)); err != nil {
			return err
		}
		c.state[axis] = slewingState(forward, false)
		return nil
	}
	if !st.FullStop() {
		if err := c.stopAndWait(ctx, axis); err != nil {
			return err
		}
	}
	mode := modeLowSpeedSlew
	if highSpeed {
		mode = modeHighSpeedSlew
	}
	if err := c.setMotionMode(ctx, axis, mode, forward, c.cfg.Hemisphere); err != nil {
		return err
	}
	if _, err := c.send(ctx, axis, 'I', uint24(period)); err != nil {
		return err
	}
	if _, err := c.send(ctx, axis, 'J', nil); err != nil {
		return err
	}
	c.state[axis] = slewingState(forward, highSpeed)
	return nil
}

// ShortestDelta returns target-current reduced to (-π, π], so a move
// from 10° to 350° is -20° rather than +340°.
func ShortestDelta(current, target float64) float64 {
	return angle.RangePi(angle.Range2Pi(target) - angle.Range2Pi(current))
}

// SlewTo starts a goto of axis to target radians along the shorter path.
// A move that rounds to zero steps does nothing.
func (c *Controller) SlewTo(ctx context.Context, axis Axis, target float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(axis); err != nil {
		return err
	}
	// The increment is relative, so the axis must be at rest before its
	// position is read.
	if !c.state[axis].FullStop() {
		if err := c.stopAndWait(ctx, axis); err != nil {
			return err
		}
	}
	current, err := c.axisPosition(ctx, axis)
	if err != nil {
		return err
	}
	cal := c.cal[axis]
	delta := ShortestDelta(current, target)
	steps := cal.Steps(math.Abs(delta))
	if steps == 0 {
		return nil
	}
	forward := delta > 0
	mode, highSpeed := modeLowSpeedGoto, false
	if steps > cal.LowSpeedGotoMargin {
		mode, highSpeed = modeHighSpeedGoto, true
	}
	if err := c.setMotionMode(ctx, axis, mode, forward, c.cfg.Hemisphere); err != nil {
		return err
	}
	if _, err := c.send(ctx, axis, 'H', uint24(steps)); err != nil {
		return err
	}
	if _, err := c.send(ctx, axis, 'M', uint24(cal.BreakSteps)); err != nil {
		return err
	}
	if _, err := c.send(ctx, axis, 'J', nil); err != nil {
		return err
	}
	c.state[axis] = gotoState(forward, highSpeed)
	c.log.Debug(ctx, "goto started",
		logging.String("axis", axis.String()),
		logging.Float("delta_degrees", angle.Deg(delta)),
		logging.Int("steps", int(steps)))
	return nil
}

// Stop halts axis, or both axes for AxisBoth.
func (c *Controller) Stop(ctx context.Context, axis Axis) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if axis == AxisBoth {
		var errs []error
		for _, a := range Axes {
			if err := c.ready(a); err != nil {
				return err
			}
			errs = append(errs, c.stop(ctx, a))
		}
		return errors.Join(errs...)
	}
	if err := c.ready(axis); err != nil {
		return err
	}
	return c.stop(ctx, axis)
}

func (c *Controller) stop(ctx context.Context, axis Axis) error {
	cmd := byte('K')
	if c.cfg.InstantStop {
		cmd = 'L'
	}
	if _, err := c.send(ctx, axis, cmd, nil); err != nil {
		return err
	}
	c.state[axis] = stoppedState()
	return nil
}

// stopAndWait stops axis and polls its status until the controller
// reports it stopped.
func (c *Controller) stopAndWait(ctx context.Context, axis Axis) error {
	if err := c.stop(ctx, axis); err != nil {
		return err
	}
	return c.waitForStop(ctx, axis)
}

// waitForStop polls every PollInterval, at most PollAttempts times.
func (c *Controller) waitForStop(ctx context.Context, axis Axis) error {
	for i := 0; i < c.cfg.PollAttempts; i++ {
		st, err := c.queryStatus(ctx, axis)
		if err != nil {
			return err
		}
		if st.FullStop() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
	return fmt.Errorf("%w: %v axis still moving after %d polls", ErrTimeout, axis, c.cfg.PollAttempts)
}

// StartTracking runs the RA axis continuously at rate. The southern
// hemisphere reverses the direction. A slewing Dec axis is stopped.
func (c *Controller) StartTracking(ctx context.Context, rate TrackingRate, hemisphere coord.Hemisphere, forward bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(AxisRA); err != nil {
		return err
	}
	if hemisphere == coord.South {
		forward = !forward
	}
	if !c.state[AxisRA].FullStop() {
		if err := c.stopAndWait(ctx, AxisRA); err != nil {
			return err
		}
	}
	cal := c.cal[AxisRA]
	if err := c.setMotionMode(ctx, AxisRA, modeLowSpeedSlew, forward, hemisphere); err != nil {
		return err
	}
	if _, err := c.send(ctx, AxisRA, 'I', uint24(cal.stepPeriod(rate.RadiansPerSecond(), false, c.mcVersion))); err != nil {
		return err
	}
	if _, err := c.send(ctx, AxisRA, 'J', nil); err != nil {
		return err
	}
	c.state[AxisRA] = trackingState(forward, rate)
	if c.state[AxisDec].Slewing() {
		return c.stop(ctx, AxisDec)
	}
	return nil
}

// StopTracking stops the RA axis.
func (c *Controller) StopTracking(ctx context.Context) error {
	return c.Stop(ctx, AxisRA)
}

// QueryStatus reads the axis status from the controller and caches it.
func (c *Controller) QueryStatus(ctx context.Context, axis Axis) (AxisState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(axis); err != nil {
		return AxisState{}, err
	}
	return c.queryStatus(ctx, axis)
}

func (c *Controller) queryStatus(ctx context.Context, axis Axis) (AxisState, error) {
	resp, err := c.send(ctx, axis, 'f', nil)
	if err != nil {
		return AxisState{}, err
	}
	n, err := resp.Nibbles()
	if err != nil {
		return AxisState{}, err
	}
	st, err := decodeStatus(n)
	if err != nil {
		return AxisState{}, err
	}
	if prev := c.state[axis]; prev.Tracking && st.Slewing() {
		st.Tracking, st.TrackingRate = true, prev.TrackingRate
	}
	c.state[axis] = st
	return st, nil
}

// AxisPosition returns the axis angle in radians in [0, 2π).
func (c *Controller) AxisPosition(ctx context.Context, axis Axis) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(axis); err != nil {
		return 0, err
	}
	return c.axisPosition(ctx, axis)
}

func (c *Controller) axisPosition(ctx context.Context, axis Axis) (float64, error) {
	steps, err := c.inquire(ctx, axis, 'j')
	if err != nil {
		return 0, err
	}
	rad := angle.Range2Pi(c.cal[axis].Radians(steps - positionOffset))
	c.cfg.Metrics.SetAxisPosition(axis.String(), angle.Deg(rad))
	return rad, nil
}

// AxisPositions reads both axes.
func (c *Controller) AxisPositions(ctx context.Context) (ra, dec float64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, axis := range Axes {
		if err := c.ready(axis); err != nil {
			return 0, 0, err
		}
	}
	if ra, err = c.axisPosition(ctx, AxisRA); err != nil {
		return 0, 0, err
	}
	if dec, err = c.axisPosition(ctx, AxisDec); err != nil {
		return 0, 0, err
	}
	return ra, dec, nil
}

// SetAxisPosition redefines the current position of axis as rad.
func (c *Controller) SetAxisPosition(ctx context.Context, axis Axis, rad float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(axis); err != nil {
		return err
	}
	steps := c.cal[axis].Steps(angle.Range2Pi(rad)) + positionOffset
	_, err := c.send(ctx, axis, 'E', uint24(steps))
	return err
}
