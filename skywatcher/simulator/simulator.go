// Package simulator implements an in-process motor controller that speaks
// the SkyWatcher serial protocol over a net.Pipe.
package simulator

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// Discrete simulation step size
	stepSize = 25 * time.Millisecond
	// Ticks a ramped stop takes to complete
	rampTicks = 3
	// Positions are reported offset by 0x800000
	positionOffset = 0x800000

	siderealRate = 2 * math.Pi / 86164.09065
)

// Config describes the simulated board.
type Config struct {
	// Version is reported by 'e' as major<<16 | minor<<8 | mount code.
	Version        int64
	Steps          int64
	TimerFreq      int64
	HighSpeedRatio int64
	PECPeriod      int64
	// NoPEC makes the board reject the PEC period inquiry.
	NoPEC bool
	// Speedup scales simulated time; zero means real time.
	Speedup float64
}

// DefaultConfig resembles an EQ6 class board.
func DefaultConfig() Config {
	return Config{
		Version:        0x020400,
		Steps:          9024000,
		TimerFreq:      64935,
		HighSpeedRatio: 16,
		PECPeriod:      50133,
	}
}

type axis struct {
	position    float64 // steps, offset applied on report
	initialized bool
	running     bool
	stopping    int
	mode        int
	forward     bool
	period      int64
	increment   int64
	breakSteps  int64
	travelled   float64
}

func (a *axis) isGoto() bool    { return a.mode == 0 || a.mode == 2 }
func (a *axis) highSpeed() bool { return a.mode == 0 || a.mode == 3 }

type Simulator struct {
	conn io.ReadWriteCloser
	cfg  Config

	mu   sync.Mutex
	axes [2]axis
	drop int
	sent []string

	// simulated time since Run started, scaled by Speedup
	elapsed time.Duration
}

// New returns a simulator and the controller end of its connection.
func New(cfg Config) (*Simulator, net.Conn) {
	a, b := net.Pipe()
	s := &Simulator{conn: a, cfg: cfg}
	for i := range s.axes {
		s.axes[i].forward = true
	}
	return s, b
}

// DropResponses makes the simulator swallow the next n responses, as a
// controller that never answered.
func (s *Simulator) DropResponses(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop = n
}

// Commands returns every frame received so far, without the terminator.
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// SetPosition places axis i (0 for RA, 1 for Dec) at steps from zero.
func (s *Simulator) SetPosition(i int, steps int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.axes[i].position = float64(steps)
}

// Position returns the step count of axis i from zero.
func (s *Simulator) Position(i int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(math.Round(s.axes[i].position))
}

// Elapsed returns how much mount time has passed, so a test clock can
// advance in step with the axes.
func (s *Simulator) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// Running reports whether axis i is moving.
func (s *Simulator) Running(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.axes[i].running
}

func (s *Simulator) Run(ctx context.Context) error {
	t := time.NewTicker(stepSize)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Wait for context to be canceled, then close connection.
		<-ctx.Done()
		s.conn.Close()
		return ctx.Err()
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			s.step()
		}
	})
	g.Go(s.reader)
	return g.Wait()
}

func scanCR(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '\r'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (s *Simulator) reader() error {
	scanner := bufio.NewScanner(s.conn)
	scanner.Split(scanCR)
	for scanner.Scan() {
		input := scanner.Text()
		log.Printf("srv->sim: %s", input)
		reply := s.handle(input)
		if reply == "" {
			continue
		}
		if err := s.send(reply); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading port: %w", err)
	}
	return io.EOF
}

func (s *Simulator) send(reply string) error {
	log.Printf("sim->srv: %s", reply)
	_, err := fmt.Fprintf(s.conn, "%s\r", reply)
	return err
}

// hex24 renders v as three bytes, least significant first.
func hex24(v int64) string {
	return fmt.Sprintf("%02X%02X%02X", v&0xFF, (v>>8)&0xFF, (v>>16)&0xFF)
}

func parse24(p string) (int64, bool) {
	if len(p) != 6 {
		return 0, false
	}
	var v int64
	for i := 4; i >= 0; i -= 2 {
		b, err := strconv.ParseUint(p[i:i+2], 16, 8)
		if err != nil {
			return 0, false
		}
		v = v<<8 | int64(b)
	}
	return v, true
}

const (
	errGeneral    = "!0"
	errParamCount = "!1"
	errBusy       = "!2"
)

// handle returns the reply to one frame, or "" if it is dropped.
func (s *Simulator) handle(input string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, input)
	reply := s.dispatch(input)
	if s.drop > 0 {
		s.drop--
		return ""
	}
	return reply
}

func (s *Simulator) dispatch(input string) string {
	if len(input) < 3 || input[0] != ':' || (input[2] != '1' && input[2] != '2') {
		return errGeneral
	}
	cmd, payload := input[1], input[3:]
	a := &s.axes[input[2]-'1']
	switch cmd {
	case 'e':
		return fmt.Sprintf("=%06X", s.cfg.Version)
	case 'a':
		return "=" + hex24(s.cfg.Steps)
	case 'b':
		return "=" + hex24(s.cfg.TimerFreq)
	case 'g':
		return fmt.Sprintf("=%02X", s.cfg.HighSpeedRatio&0xFF)
	case 's':
		if s.cfg.NoPEC {
			return errGeneral
		}
		return "=" + hex24(s.cfg.PECPeriod)
	case 'j':
		return "=" + hex24(int64(math.Round(a.position))+positionOffset)
	case 'f':
		n0 := 0
		if !a.isGoto() {
			n0 |= 1
		}
		if !a.forward {
			n0 |= 2
		}
		if a.highSpeed() {
			n0 |= 4
		}
		n1, n2 := 0, 0
		if a.running {
			n1 = 1
		}
		if a.initialized {
			n2 = 1
		}
		return fmt.Sprintf("=%X%X%X", n0, n1, n2)
	case 'F':
		a.initialized = true
		return "="
	case 'G':
		if len(payload) != 2 {
			return errParamCount
		}
		if a.running {
			return errBusy
		}
		a.mode = int(payload[0] - '0')
		a.forward = payload[1] == '0' || payload[1] == '2'
		return "="
	case 'H', 'M', 'E', 'I':
		v, ok := parse24(payload)
		if !ok {
			return errParamCount
		}
		switch cmd {
		case 'H':
			if a.running {
				return errBusy
			}
			a.increment = v
		case 'M':
			a.breakSteps = v
		case 'E':
			if a.running {
				return errBusy
			}
			a.position = float64(v - positionOffset)
		case 'I':
			if a.running && a.highSpeed() {
				return errBusy
			}
			a.period = v
		}
		return "="
	case 'J':
		if !a.initialized {
			return errGeneral
		}
		a.running = true
		a.stopping = 0
		a.travelled = 0
		return "="
	case 'K':
		if a.running && a.stopping == 0 {
			a.stopping = rampTicks
		}
		return "="
	case 'L':
		a.running = false
		a.stopping = 0
		return "="
	}
	return errGeneral
}

// gotoRate returns steps per second for a goto in the axis mode.
func (s *Simulator) gotoRate(a *axis) float64 {
	rate := 64 * siderealRate
	if a.highSpeed() {
		rate = 800 * siderealRate
	}
	return rate * float64(s.cfg.Steps) / (2 * math.Pi)
}

func (s *Simulator) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	dt := stepSize.Seconds()
	if s.cfg.Speedup > 0 {
		dt *= s.cfg.Speedup
	}
	s.elapsed += time.Duration(dt * float64(time.Second))
	for i := range s.axes {
		a := &s.axes[i]
		if !a.running {
			continue
		}
		if a.stopping > 0 {
			a.stopping--
			if a.stopping == 0 {
				a.running = false
				continue
			}
		}
		var move float64
		if a.isGoto() {
			move = math.Min(s.gotoRate(a)*dt, float64(a.increment)-a.travelled)
			a.travelled += move
			if a.travelled >= float64(a.increment) {
				a.running = false
			}
		} else if a.period > 0 {
			stepsPerSec := float64(s.cfg.TimerFreq) / float64(a.period)
			if a.highSpeed() {
				stepsPerSec *= float64(s.cfg.HighSpeedRatio)
			}
			move = stepsPerSec * dt
		}
		if !a.forward {
			move = -move
		}
		a.position = math.Mod(a.position+move, float64(s.cfg.Steps))
		if a.position < 0 {
			a.position += float64(s.cfg.Steps)
		}
	}
}
