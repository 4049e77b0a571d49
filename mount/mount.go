// Package mount is the command surface of an equatorial mount: it couples
// the motor controller with the sky/axis coordinate mapper and reports
// each operation as a StatusCode.
package mount

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
	"github.com/w1xm/skywatcher/skywatcher"
)

type StatusCode int

const (
	Success StatusCode = iota
	BadParameter
	AlreadyConnected
	ComError
	Busy
	NotConnected
)

func (s StatusCode) String() string {
	switch s {
	case Success:
		return "success"
	case BadParameter:
		return "bad parameter"
	case AlreadyConnected:
		return "already connected"
	case ComError:
		return "communication error"
	case Busy:
		return "busy"
	case NotConnected:
		return "not connected"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

const DefaultBaudRate = 9600

var errBadParameter = errors.New("bad parameter")

type Config struct {
	Site     coord.Site
	Port     string
	BaudRate int
	Timeout  time.Duration
	// Retry is the number of attempts per transaction.
	Retry          int
	ParkPosition   coord.AxisPosition
	SwapSideOfPier bool
	InstantStop    bool

	// PollInterval bounds how often a stopping axis is polled.
	PollInterval time.Duration
	// Now defaults to time.Now.
	Now     func() time.Time
	Logger  logging.Logger
	Metrics *metrics.ProtocolCollector
}

func (c Config) withDefaults() Config {
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.Timeout <= 0 {
		c.Timeout = skywatcher.DefaultTimeout
	}
	if c.Retry <= 0 {
		c.Retry = skywatcher.DefaultRetry
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Status is a snapshot of the whole mount.
type Status struct {
	Connected    bool
	Position     coord.MountCoordinate
	PointingSide PierSide
	PhysicalSide PierSide
	RA           skywatcher.AxisState
	Dec          skywatcher.AxisState
	Tracking     bool
	TrackingRate skywatcher.TrackingRate
}

// Mount is safe for concurrent use.
type Mount struct {
	cfg    Config
	log    logging.Logger
	mapper *Mapper

	mu           sync.Mutex
	ctrl         *skywatcher.Controller
	tracking     bool
	trackingRate skywatcher.TrackingRate
}

func New(cfg Config) *Mount {
	cfg = cfg.withDefaults()
	log := logging.OrNoop(cfg.Logger)
	return &Mount{
		cfg:    cfg,
		log:    log,
		mapper: NewMapper(cfg.Site, cfg.SwapSideOfPier, cfg.Now, log),
	}
}

func (m *Mount) Config() Config  { return m.cfg }
func (m *Mount) Mapper() *Mapper { return m.mapper }

func (m *Mount) newController(timeout time.Duration, retry int) *skywatcher.Controller {
	return skywatcher.NewController(skywatcher.Config{
		Timeout:      timeout,
		Retry:        retry,
		InstantStop:  m.cfg.InstantStop,
		Hemisphere:   m.cfg.Site.Hemisphere(),
		PollInterval: m.cfg.PollInterval,
		Logger:       m.log,
		Metrics:      m.cfg.Metrics,
	})
}

// Connect opens a serial port and initializes the controller. Zero
// arguments fall back to the configured values.
func (m *Mount) Connect(ctx context.Context, port string, baud int, timeout time.Duration, retry int) (StatusCode, error) {
	if port == "" {
		port = m.cfg.Port
	}
	if baud == 0 {
		baud = m.cfg.BaudRate
	}
	if timeout == 0 {
		timeout = m.cfg.Timeout
	}
	if retry == 0 {
		retry = m.cfg.Retry
	}
	if port == "" || baud < 0 || timeout < 0 || retry < 0 {
		return BadParameter, nil
	}
	return m.connect(ctx, func(c *skywatcher.Controller) error {
		return c.Connect(ctx, port, baud)
	}, timeout, retry)
}

// ConnectPort initializes the controller on an already open port.
func (m *Mount) ConnectPort(ctx context.Context, port skywatcher.Port) (StatusCode, error) {
	return m.connect(ctx, func(c *skywatcher.Controller) error {
		return c.Initialize(ctx, port)
	}, m.cfg.Timeout, m.cfg.Retry)
}

func (m *Mount) connect(ctx context.Context, open func(*skywatcher.Controller) error, timeout time.Duration, retry int) (StatusCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctrl != nil {
		return AlreadyConnected, nil
	}
	c := m.newController(timeout, retry)
	if err := open(c); err != nil {
		return m.status(ctx, "connect", err)
	}
	m.ctrl = c
	m.tracking = false
	m.log.Info(ctx, "mount connected", logging.Any("mcVersion", fmt.Sprintf("%06X", c.MCVersion())))
	return Success, nil
}

func (m *Mount) Disconnect(ctx context.Context) (StatusCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctrl == nil {
		return NotConnected, nil
	}
	err := m.ctrl.Disconnect()
	m.ctrl = nil
	m.tracking = false
	m.log.Info(ctx, "mount disconnected")
	return m.status(ctx, "disconnect", err)
}

func (m *Mount) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctrl != nil
}

func (m *Mount) controller() (*skywatcher.Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctrl == nil {
		return nil, skywatcher.ErrNotConnected
	}
	return m.ctrl, nil
}

// Slew moves axis continuously at rate degrees per second; the sign
// selects the direction and zero stops the axis.
func (m *Mount) Slew(ctx context.Context, axis skywatcher.Axis, rate float64) (StatusCode, error) {
	if axis != skywatcher.AxisRA && axis != skywatcher.AxisDec || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return BadParameter, nil
	}
	c, err := m.controller()
	if err != nil {
		return m.status(ctx, "slew", err)
	}
	if axis == skywatcher.AxisRA {
		m.setTracking(false, 0)
	}
	return m.status(ctx, "slew", c.Slew(ctx, axis, angle.Rad(rate)))
}

// SlewTo starts a goto to eq. Tracking, if enabled, resumes once both
// axes have arrived.
func (m *Mount) SlewTo(ctx context.Context, eq coord.Equatorial, forceMeridianFlip bool) (StatusCode, error) {
	if err := validEquatorial(eq); err != nil {
		return BadParameter, nil
	}
	target := m.mapper.Target(eq, forceMeridianFlip)
	m.log.Info(ctx, "goto",
		logging.String("target", eq.String()),
		logging.String("axes", target.String()),
		logging.String("side", m.mapper.PhysicalSide(eq).String()))
	return m.slewToAxes(ctx, target)
}

// SlewToAxes starts a goto to raw axis angles.
func (m *Mount) SlewToAxes(ctx context.Context, axes coord.AxisPosition) (StatusCode, error) {
	m.setTracking(false, 0)
	return m.slewToAxes(ctx, axes)
}

func (m *Mount) slewToAxes(ctx context.Context, axes coord.AxisPosition) (StatusCode, error) {
	c, err := m.controller()
	if err != nil {
		return m.status(ctx, "goto", err)
	}
	if err := c.SlewTo(ctx, skywatcher.AxisRA, axes.RA.Radians()); err != nil {
		return m.status(ctx, "goto", err)
	}
	if err := c.SlewTo(ctx, skywatcher.AxisDec, axes.Dec.Radians()); err != nil {
		return m.status(ctx, "goto", err)
	}
	m.mapper.Assume(axes)
	return Success, nil
}

// Park stops tracking and moves to the configured park position.
func (m *Mount) Park(ctx context.Context) (StatusCode, error) {
	m.log.Info(ctx, "parking", logging.String("axes", m.cfg.ParkPosition.String()))
	return m.SlewToAxes(ctx, m.cfg.ParkPosition)
}

// SyncTo declares that the mount currently points at eq.
func (m *Mount) SyncTo(ctx context.Context, eq coord.Equatorial) (StatusCode, error) {
	if err := validEquatorial(eq); err != nil {
		return BadParameter, nil
	}
	c, err := m.controller()
	if err != nil {
		return m.status(ctx, "sync", err)
	}
	axes := m.mapper.Target(eq, false)
	if err := c.SetAxisPosition(ctx, skywatcher.AxisRA, axes.RA.Radians()); err != nil {
		return m.status(ctx, "sync", err)
	}
	if err := c.SetAxisPosition(ctx, skywatcher.AxisDec, axes.Dec.Radians()); err != nil {
		return m.status(ctx, "sync", err)
	}
	m.mapper.Assume(axes)
	m.log.Info(ctx, "synced", logging.String("target", eq.String()), logging.String("axes", axes.String()))
	return Success, nil
}

// Stop halts axis, or both axes for skywatcher.AxisBoth.
func (m *Mount) Stop(ctx context.Context, axis skywatcher.Axis) (StatusCode, error) {
	c, err := m.controller()
	if err != nil {
		return m.status(ctx, "stop", err)
	}
	if axis != skywatcher.AxisDec {
		m.setTracking(false, 0)
	}
	return m.status(ctx, "stop", c.Stop(ctx, axis))
}

func (m *Mount) StartTracking(ctx context.Context, rate skywatcher.TrackingRate) (StatusCode, error) {
	c, err := m.controller()
	if err != nil {
		return m.status(ctx, "track", err)
	}
	if err := c.StartTracking(ctx, rate, m.cfg.Site.Hemisphere(), trackingForward); err != nil {
		return m.status(ctx, "track", err)
	}
	m.setTracking(true, rate)
	return Success, nil
}

func (m *Mount) StopTracking(ctx context.Context) (StatusCode, error) {
	c, err := m.controller()
	if err != nil {
		return m.status(ctx, "track", err)
	}
	m.setTracking(false, 0)
	return m.status(ctx, "track", c.StopTracking(ctx))
}

func (m *Mount) setTracking(on bool, rate skywatcher.TrackingRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracking, m.trackingRate = on, rate
}

func (m *Mount) GetAxisPositions(ctx context.Context) (coord.AxisPosition, StatusCode, error) {
	c, err := m.controller()
	if err != nil {
		code, err := m.status(ctx, "positions", err)
		return coord.AxisPosition{}, code, err
	}
	ra, dec, err := c.AxisPositions(ctx)
	if err != nil {
		code, err := m.status(ctx, "positions", err)
		return coord.AxisPosition{}, code, err
	}
	return coord.AxisPositionFromRadians(ra, dec, m.mapper.DecFlipped()), Success, nil
}

func (m *Mount) GetAxisStatus(ctx context.Context, axis skywatcher.Axis) (skywatcher.AxisState, StatusCode, error) {
	c, err := m.controller()
	if err != nil {
		code, err := m.status(ctx, "status", err)
		return skywatcher.AxisState{}, code, err
	}
	st, err := c.QueryStatus(ctx, axis)
	if err != nil {
		code, err := m.status(ctx, "status", err)
		return skywatcher.AxisState{}, code, err
	}
	return st, Success, nil
}

// Position reads both axes and returns where the mount points now.
func (m *Mount) Position(ctx context.Context) (coord.MountCoordinate, StatusCode, error) {
	st, code, err := m.Status(ctx)
	return st.Position, code, err
}

// Status refreshes the mount: it reads both axes, detects meridian
// crossings and resumes tracking after a finished goto.
func (m *Mount) Status(ctx context.Context) (Status, StatusCode, error) {
	c, err := m.controller()
	if err != nil {
		code, err := m.status(ctx, "status", err)
		return Status{}, code, err
	}
	fail := func(err error) (Status, StatusCode, error) {
		code, err := m.status(ctx, "status", err)
		return Status{Connected: true}, code, err
	}
	ra, dec, err := c.AxisPositions(ctx)
	if err != nil {
		return fail(err)
	}
	raState, err := c.QueryStatus(ctx, skywatcher.AxisRA)
	if err != nil {
		return fail(err)
	}
	decState, err := c.QueryStatus(ctx, skywatcher.AxisDec)
	if err != nil {
		return fail(err)
	}
	gotoActive := raState.SlewingTo() || decState.SlewingTo()
	pos := m.mapper.Refresh(ctx, coord.AxisPositionFromRadians(ra, dec, false), gotoActive)

	m.mu.Lock()
	tracking, rate := m.tracking, m.trackingRate
	m.mu.Unlock()
	if tracking && !gotoActive && raState.FullStop() {
		m.log.Info(ctx, "resuming tracking", logging.String("rate", rate.String()))
		if err := c.StartTracking(ctx, rate, m.cfg.Site.Hemisphere(), trackingForward); err != nil {
			return fail(err)
		}
		raState = c.State(skywatcher.AxisRA)
	}

	return Status{
		Connected:    true,
		Position:     pos,
		PointingSide: PointingSideOfPier(pos.ObservedAxes, m.mapper.Hemisphere(), m.cfg.SwapSideOfPier),
		PhysicalSide: m.mapper.PhysicalSide(pos.Equatorial),
		RA:           raState,
		Dec:          decState,
		Tracking:     tracking,
		TrackingRate: rate,
	}, Success, nil
}

func validEquatorial(eq coord.Equatorial) error {
	ra, dec := eq.RA.Hours(), eq.Dec.Degrees()
	if math.IsNaN(ra) || math.IsInf(ra, 0) || math.IsNaN(dec) || dec < -90 || dec > 90 {
		return fmt.Errorf("%w: %v", errBadParameter, eq)
	}
	return nil
}

// status classifies err. Only failures of the link itself are returned as
// errors; everything else is reported through the code alone.
func (m *Mount) status(ctx context.Context, op string, err error) (StatusCode, error) {
	if err == nil {
		return Success, nil
	}
	code, fatal := classify(err)
	if fatal {
		m.log.Error(ctx, op+" failed", logging.String("status", code.String()), logging.Err(err))
		return code, err
	}
	m.log.Warn(ctx, op+" rejected", logging.String("status", code.String()), logging.Err(err))
	return code, nil
}

func classify(err error) (StatusCode, bool) {
	var (
		terr *skywatcher.TransportError
		cerr *skywatcher.CalibrationError
		perr *skywatcher.ProtocolError
	)
	switch {
	case errors.As(err, &terr), errors.As(err, &cerr):
		return ComError, true
	case errors.Is(err, skywatcher.ErrAlreadyConnected):
		return AlreadyConnected, false
	case errors.Is(err, skywatcher.ErrNotConnected), errors.Is(err, skywatcher.ErrNotCalibrated):
		return NotConnected, false
	case errors.Is(err, skywatcher.ErrBadAxis), errors.Is(err, skywatcher.ErrPayloadTooLarge), errors.Is(err, errBadParameter):
		return BadParameter, false
	case errors.As(err, &perr):
		switch perr.Code {
		case skywatcher.MotorBusy:
			return Busy, false
		case skywatcher.BadParameterCount, skywatcher.BadValue:
			return BadParameter, false
		}
		return ComError, false
	}
	return ComError, true
}
