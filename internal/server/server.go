// Package server exposes a mount over HTTP, a websocket status stream and
// the LX200 TCP protocol.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/w1xm/skywatcher/angle"
	"github.com/w1xm/skywatcher/coord"
	"github.com/w1xm/skywatcher/internal/logging"
	"github.com/w1xm/skywatcher/mount"
	"github.com/w1xm/skywatcher/power"
	"github.com/w1xm/skywatcher/skywatcher"
)

// Relay is the part of the power board the server drives.
type Relay interface {
	SetMountPower(enabled bool) error
}

type AxisStatus struct {
	Degrees   float64 `json:"degrees"`
	Motion    string  `json:"motion"`
	Forward   bool    `json:"forward"`
	HighSpeed bool    `json:"high_speed"`
	Tracking  bool    `json:"tracking"`
}

type Status struct {
	Time      time.Time `json:"time"`
	Connected bool      `json:"connected"`
	Error     string    `json:"error,omitempty"`

	RA         float64 `json:"ra_hours"`
	Dec        float64 `json:"dec_degrees"`
	RAText     string  `json:"ra"`
	DecText    string  `json:"dec"`
	Alt        float64 `json:"alt_degrees"`
	Az         float64 `json:"az_degrees"`
	LST        float64 `json:"lst_hours"`
	Hemisphere string  `json:"hemisphere"`

	RAAxis       AxisStatus `json:"ra_axis"`
	DecAxis      AxisStatus `json:"dec_axis"`
	DecFlipped   bool       `json:"dec_flipped"`
	PointingSide string     `json:"pointing_side"`
	PhysicalSide string     `json:"physical_side"`
	Tracking     bool       `json:"tracking"`
	TrackingRate string     `json:"tracking_rate,omitempty"`

	Power *power.Status `json:"power,omitempty"`
}

func axisStatus(degrees float64, st skywatcher.AxisState) AxisStatus {
	return AxisStatus{
		Degrees:   degrees,
		Motion:    st.Motion.String(),
		Forward:   st.Forward,
		HighSpeed: st.HighSpeed,
		Tracking:  st.Tracking,
	}
}

func newStatus(st mount.Status) Status {
	pos := st.Position
	out := Status{
		Connected: st.Connected,
		Time:      pos.SyncTime,

		RA:         pos.Equatorial.RA.Hours(),
		Dec:        pos.Equatorial.Dec.Degrees(),
		RAText:     pos.Equatorial.RA.WithFormat(angle.Colon).String(),
		DecText:    pos.Equatorial.Dec.WithFormat(angle.Colon).String(),
		Alt:        pos.AltAzimuth.Alt.Degrees(),
		Az:         pos.AltAzimuth.Az.Degrees(),
		LST:        pos.LocalSiderealTime.Hours(),
		Hemisphere: pos.Hemisphere.String(),

		RAAxis:       axisStatus(pos.ObservedAxes.RA.Degrees(), st.RA),
		DecAxis:      axisStatus(pos.ObservedAxes.Dec.Degrees(), st.Dec),
		DecFlipped:   pos.ObservedAxes.DecFlipped,
		PointingSide: st.PointingSide.String(),
		PhysicalSide: st.PhysicalSide.String(),
		Tracking:     st.Tracking,
	}
	if st.Tracking {
		out.TrackingRate = st.TrackingRate.String()
	}
	return out
}

type Server struct {
	mu    sync.Mutex
	m     *mount.Mount
	relay Relay
	log   logging.Logger

	statusMu sync.RWMutex
	status   Status
	changed  chan struct{}
	power    *power.Status
}

func NewServer(m *mount.Mount, relay Relay, log logging.Logger) *Server {
	return &Server{
		m:       m,
		relay:   relay,
		log:     logging.OrNoop(log),
		changed: make(chan struct{}),
	}
}

// SetRelay attaches a power board after construction, since the board's
// status callback needs the server first.
func (s *Server) SetRelay(r Relay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relay = r
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Router serves the API under /api and metrics, if non-nil, at /metrics.
func (s *Server) Router(metrics http.Handler) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.StatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/command", s.CommandHandler).Methods(http.MethodPost)
	api.HandleFunc("/ws", s.StatusSocketHandler)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	return r
}

// Status returns the last published status.
func (s *Server) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Server) publish(status Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if status.Power == nil {
		status.Power = s.power
	}
	s.status = status
	close(s.changed)
	s.changed = make(chan struct{})
}

// PowerCallback is passed to power.Connect.
func (s *Server) PowerCallback(status power.Status) {
	s.statusMu.Lock()
	s.power = &status
	s.statusMu.Unlock()
}

// Refresh reads the mount once and publishes the result.
func (s *Server) Refresh(ctx context.Context) {
	st, code, err := s.m.Status(ctx)
	status := newStatus(st)
	if code != mount.Success {
		status.Time = time.Now()
		status.Error = code.String()
		if err != nil {
			status.Error = err.Error()
		}
	}
	s.publish(status)
}

// Run refreshes the status every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.Refresh(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(s.Status())
	if err != nil {
		s.log.Error(r.Context(), "encoding status", logging.Err(err))
		return
	}
	w.Write(data)
}

type Command struct {
	Command string `json:"command"`
	// Axis is "ra", "dec" or "both"
	Axis string `json:"axis,omitempty"`
	// Rate in degrees per second for slew
	Rate float64 `json:"rate,omitempty"`
	// RA and Dec are parsed with angle.ParseHours and angle.Parse
	RA           string `json:"ra,omitempty"`
	Dec          string `json:"dec,omitempty"`
	Flip         bool   `json:"flip,omitempty"`
	TrackingRate string `json:"tracking_rate,omitempty"`
	Port         string `json:"port,omitempty"`
	Baud         int    `json:"baud,omitempty"`
	Enabled      bool   `json:"enabled,omitempty"`
}

type CommandResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func parseAxis(s string) (skywatcher.Axis, error) {
	switch strings.ToLower(s) {
	case "ra", "1":
		return skywatcher.AxisRA, nil
	case "dec", "2":
		return skywatcher.AxisDec, nil
	case "both", "", "3":
		return skywatcher.AxisBoth, nil
	}
	return 0, fmt.Errorf("unknown axis %q", s)
}

func (c Command) equatorial() (coord.Equatorial, error) {
	ra, err := angle.ParseHours(c.RA)
	if err != nil {
		return coord.Equatorial{}, err
	}
	dec, err := angle.Parse(c.Dec)
	if err != nil {
		return coord.Equatorial{}, err
	}
	return coord.Equatorial{RA: ra.Range24(), Dec: dec}, nil
}

// Execute runs one command against the mount. Malformed commands are
// reported as BadParameter.
func (s *Server) Execute(ctx context.Context, cmd Command) (mount.StatusCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info(ctx, "command", logging.String("command", cmd.Command))
	switch cmd.Command {
	case "connect":
		return s.m.Connect(ctx, cmd.Port, cmd.Baud, 0, 0)
	case "disconnect":
		return s.m.Disconnect(ctx)
	case "slew":
		axis, err := parseAxis(cmd.Axis)
		if err != nil {
			return mount.BadParameter, nil
		}
		return s.m.Slew(ctx, axis, cmd.Rate)
	case "goto":
		eq, err := cmd.equatorial()
		if err != nil {
			return mount.BadParameter, nil
		}
		return s.m.SlewTo(ctx, eq, cmd.Flip)
	case "sync":
		eq, err := cmd.equatorial()
		if err != nil {
			return mount.BadParameter, nil
		}
		return s.m.SyncTo(ctx, eq)
	case "stop":
		axis, err := parseAxis(cmd.Axis)
		if err != nil {
			return mount.BadParameter, nil
		}
		return s.m.Stop(ctx, axis)
	case "track":
		rate := skywatcher.Sidereal
		if cmd.TrackingRate != "" {
			var err error
			if rate, err = skywatcher.ParseTrackingRate(cmd.TrackingRate); err != nil {
				return mount.BadParameter, nil
			}
		}
		return s.m.StartTracking(ctx, rate)
	case "stop_tracking":
		return s.m.StopTracking(ctx)
	case "park":
		return s.m.Park(ctx)
	case "power":
		if s.relay == nil {
			return mount.NotConnected, nil
		}
		if err := s.relay.SetMountPower(cmd.Enabled); err != nil {
			return mount.ComError, err
		}
		return mount.Success, nil
	}
	return mount.BadParameter, nil
}

// do runs f under the command lock.
func (s *Server) do(f func() (mount.StatusCode, error)) (mount.StatusCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f()
}

func (s *Server) execute(ctx context.Context, cmd Command) CommandResult {
	code, err := s.Execute(ctx, cmd)
	res := CommandResult{Status: code.String()}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func (s *Server) CommandHandler(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res := s.execute(r.Context(), cmd)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.log.Error(r.Context(), "encoding command result", logging.Err(err))
	}
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(ctx, "upgrading websocket", logging.Err(err))
		return
	}
	defer conn.Close()

	// Read and process incoming messages
	go func() {
		defer cancel()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			s.execute(ctx, msg)
		}
	}()

	for {
		s.statusMu.RLock()
		status, changed := s.status, s.changed
		s.statusMu.RUnlock()

		data, err := json.Marshal(status)
		if err != nil {
			s.log.Error(ctx, "encoding status", logging.Err(err))
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.log.Debug(ctx, "websocket closed", logging.Err(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}
