package skywatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/w1xm/skywatcher/internal/logging"
	"github.com/w1xm/skywatcher/internal/metrics"
)

const (
	DefaultTimeout = time.Second
	DefaultRetry   = 2

	maxLineLength = 32
)

type ProtocolConfig struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Retry is the number of attempts made before giving up.
	Retry   int
	Logger  logging.Logger
	Metrics *metrics.ProtocolCollector
}

// Protocol exchanges framed command/response pairs with a motor
// controller. Only one transaction is in flight at a time.
type Protocol struct {
	mu      sync.Mutex
	port    Port
	timeout time.Duration
	retry   int
	log     logging.Logger
	metrics *metrics.ProtocolCollector

	lines     chan string
	done      chan struct{}
	closeOnce sync.Once
	readErr   error
}

// NewProtocol takes ownership of port and starts reading from it.
func NewProtocol(port Port, cfg ProtocolConfig) *Protocol {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry <= 0 {
		cfg.Retry = DefaultRetry
	}
	p := &Protocol{
		port:    port,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		log:     logging.OrNoop(cfg.Logger),
		metrics: cfg.Metrics,
		lines:   make(chan string, 8),
		done:    make(chan struct{}),
	}
	go p.reader()
	return p
}

// reader splits the input stream on the terminator. Serial ports report a
// read timeout as io.EOF, so EOF only ends the loop once Close was called.
func (p *Protocol) reader() {
	defer close(p.lines)
	buf := make([]byte, 64)
	var line []byte
	for {
		n, err := p.port.Read(buf)
		for _, c := range buf[:n] {
			if c != terminator {
				if len(line) < maxLineLength {
					line = append(line, c)
				}
				continue
			}
			select {
			case p.lines <- string(line):
			case <-p.done:
				return
			}
			line = line[:0]
		}
		select {
		case <-p.done:
			return
		default:
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			select {
			case <-p.done:
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		p.readErr = err
		return
	}
}

// drain discards responses nobody is waiting for.
func (p *Protocol) drain() {
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				return
			}
			p.log.Debug(context.Background(), "discarding stale response", logging.String("line", line))
		default:
			return
		}
	}
}

func (p *Protocol) exchange(ctx context.Context, frame []byte) (string, error) {
	p.drain()
	if _, err := p.port.Write(frame); err != nil {
		return "", fmt.Errorf("writing %q: %w", frame, err)
	}
	t := time.NewTimer(p.timeout)
	defer t.Stop()
	select {
	case line, ok := <-p.lines:
		if !ok {
			if p.readErr != nil {
				return "", fmt.Errorf("%w: reading port: %v", ErrNotConnected, p.readErr)
			}
			return "", ErrNotConnected
		}
		return line, nil
	case <-t.C:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Send performs one transaction, resubmitting the whole frame after a
// timeout or malformed response. Error responses from the controller are
// returned as *ProtocolError without retrying; exhausted retries are
// returned as *TransportError.
func (p *Protocol) Send(ctx context.Context, axis Axis, cmd byte, params []byte) (Response, error) {
	frame, err := encodeFrame(axis, cmd, params)
	if err != nil {
		return Response{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return Response{}, ErrNotConnected
	default:
	}

	label := string(cmd)
	var lastErr error
	attempt := 0
	for attempt < p.retry {
		attempt++
		if attempt > 1 {
			p.metrics.ObserveRetry(label)
			p.log.Warn(ctx, "retrying transaction",
				logging.String("frame", string(frame[:len(frame)-1])),
				logging.Int("attempt", attempt),
				logging.Err(lastErr))
		}
		start := time.Now()
		line, err := p.exchange(ctx, frame)
		var resp Response
		if err == nil {
			resp, err = decodeResponse(axis, cmd, line)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		var perr *ProtocolError
		switch {
		case err == nil:
			p.metrics.ObserveTransaction(label, "ok", time.Since(start))
			p.log.Debug(ctx, "transaction",
				logging.String("frame", string(frame[:len(frame)-1])),
				logging.String("response", line))
			return resp, nil
		case errors.As(err, &perr):
			p.metrics.ObserveTransaction(label, "protocol_error", time.Since(start))
			return Response{}, err
		}
		p.metrics.ObserveTransaction(label, "transport_error", time.Since(start))
		lastErr = err
		if errors.Is(err, ErrNotConnected) {
			break
		}
	}
	return Response{}, &TransportError{Axis: axis, Command: cmd, Attempts: attempt, Err: lastErr}
}

// Close stops the reader and closes the port.
func (p *Protocol) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.port.Close()
	})
	return err
}
