package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/w1xm/skywatcher/angle"
	"github.com/w1xm/skywatcher/coord"
	"github.com/w1xm/skywatcher/internal/logging"
	"github.com/w1xm/skywatcher/mount"
)

const ack = 0x06

// Move rates in degrees per second, selected by :RS#, :RM#, :RC# and :RG#.
const (
	rateSlew   = 3.0
	rateFind   = 0.5
	rateCenter = 10 * 15.041067 / 3600
	rateGuide  = 2 * 15.041067 / 3600
)

// ListenLX200 accepts planetarium clients speaking the LX200 protocol.
// It returns the bound address.
func (s *Server) ListenLX200(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		s.log.Info(ctx, "shutdown; closing LX200 socket")
		ln.Close()
	}()
	go s.acceptLX200(ctx, ln)
	return ln.Addr(), nil
}

// Accept failures back off from minAcceptDelay up to maxAcceptDelay.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

func (s *Server) acceptLX200(ctx context.Context, ln net.Listener) {
	var delay time.Duration
	for ctx.Err() == nil {
		conn, err := ln.Accept()
		if err == nil {
			delay = 0
			go s.handleLX200(ctx, conn)
			continue
		}
		if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
			return
		}
		delay = min(max(2*delay, minAcceptDelay), maxAcceptDelay)
		s.log.Warn(ctx, "failed to accept", logging.Err(err), logging.String("retry", delay.String()))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// splitLX200 yields '#'-terminated commands and the bare ACK byte.
func splitLX200(data []byte, atEOF bool) (int, []byte, error) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	if data[0] == ack {
		return 1, data[:1], nil
	}
	if i := bytes.IndexByte(data, '#'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

type lx200Session struct {
	target   coord.Equatorial
	hasRA    bool
	hasDec   bool
	moveRate float64
}

func formatRA(h float64) string {
	secs := int(math.Round(angle.Range24(h)*3600)) % 86400
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

func formatDec(d float64) string {
	sign := '+'
	if d < 0 {
		sign = '-'
	}
	secs := int(math.Round(math.Abs(d) * 3600))
	return fmt.Sprintf("%c%02d*%02d'%02d", sign, secs/3600, secs/60%60, secs%60)
}

func parseDec(s string) (angle.Angle, error) {
	return angle.Parse(strings.NewReplacer("*", ":", "'", ":", "ß", ":").Replace(s))
}

func (s *Server) handleLX200(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.log.Info(ctx, "accepted LX200 connection", logging.String("remote", conn.RemoteAddr().String()))
	sess := &lx200Session{moveRate: rateFind}
	scanner := bufio.NewScanner(conn)
	scanner.Split(splitLX200)
	for scanner.Scan() {
		cmd := scanner.Text()
		if cmd == string(rune(ack)) {
			// German equatorial.
			fmt.Fprint(conn, "G")
			continue
		}
		cmd = strings.TrimPrefix(cmd, ":")
		if cmd == "" {
			continue
		}
		s.log.Debug(ctx, "LX200 command", logging.String("remote", conn.RemoteAddr().String()), logging.String("command", cmd))
		if reply := s.lx200(ctx, sess, cmd); reply != "" {
			fmt.Fprint(conn, reply)
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn(ctx, "reading LX200 client", logging.String("remote", conn.RemoteAddr().String()), logging.Err(err))
	}
}

func boolReply(ok bool) string {
	if ok {
		return "1"
	}
	return "0"
}

func (s *Server) lx200(ctx context.Context, sess *lx200Session, cmd string) string {
	switch {
	case cmd == "GR":
		return formatRA(s.Status().RA) + "#"
	case cmd == "GD":
		return formatDec(s.Status().Dec) + "#"
	case cmd == "GVP":
		return "SkyWatcher EQ#"
	case strings.HasPrefix(cmd, "Sr"):
		ra, err := angle.ParseHours(strings.TrimSpace(cmd[2:]))
		if err == nil {
			sess.target.RA, sess.hasRA = ra.Range24(), true
		}
		return boolReply(err == nil)
	case strings.HasPrefix(cmd, "Sd"):
		dec, err := parseDec(strings.TrimSpace(cmd[2:]))
		ok := err == nil && math.Abs(dec.Degrees()) <= 90
		if ok {
			sess.target.Dec, sess.hasDec = dec, true
		}
		return boolReply(ok)
	case cmd == "MS":
		if !sess.hasRA || !sess.hasDec {
			return "2No target#"
		}
		code, err := s.do(func() (mount.StatusCode, error) {
			return s.m.SlewTo(ctx, sess.target, false)
		})
		if code != mount.Success {
			msg := code.String()
			if err != nil {
				msg = err.Error()
			}
			return "1" + msg + "#"
		}
		return "0"
	case cmd == "CM":
		if !sess.hasRA || !sess.hasDec {
			return "No target#"
		}
		code, _ := s.do(func() (mount.StatusCode, error) {
			return s.m.SyncTo(ctx, sess.target)
		})
		if code != mount.Success {
			return "Sync failed: " + code.String() + "#"
		}
		return "Coordinates matched#"
	case cmd == "RS":
		sess.moveRate = rateSlew
	case cmd == "RM":
		sess.moveRate = rateFind
	case cmd == "RC":
		sess.moveRate = rateCenter
	case cmd == "RG":
		sess.moveRate = rateGuide
	case cmd == "Mn", cmd == "Ms", cmd == "Me", cmd == "Mw":
		axis, rate := "dec", sess.moveRate
		switch cmd[1] {
		case 's':
			rate = -rate
		case 'e':
			axis, rate = "ra", -rate
		case 'w':
			axis = "ra"
		}
		s.Execute(ctx, Command{Command: "slew", Axis: axis, Rate: rate})
	case cmd == "Q":
		s.Execute(ctx, Command{Command: "stop", Axis: "both"})
	case cmd == "Qn", cmd == "Qs":
		s.Execute(ctx, Command{Command: "stop", Axis: "dec"})
	case cmd == "Qe", cmd == "Qw":
		s.Execute(ctx, Command{Command: "stop", Axis: "ra"})
	default:
		s.log.Debug(ctx, "unsupported LX200 command", logging.String("command", cmd))
	}
	return ""
}
