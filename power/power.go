// Package power drives the relay board that switches the mount and its
// accessories on and off.
package power

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/w1xm/skywatcher/internal/logging"
	"github.com/w1xm/skywatcher/internal/modbus"
)

// Coils
const (
	coilMount = iota
	coilAccessory
)

// Discrete inputs
const (
	inputSupply = iota
	inputMount
	inputAccessory
)

var (
	ErrNoStatus         = errors.New("relay board has not reported yet")
	ErrNoAccessoryRelay = errors.New("relay board has no accessory relay")
)

type Status struct {
	SpinupDelay int

	CommandMountPower     bool
	CommandAccessoryPower bool

	SupplyPresent bool
	MountPowered  bool
	AccessoryOn   bool
}

type StatusCallback func(status Status)

// layout is what a board reports about itself. It is fixed for the
// life of a connection.
type layout struct {
	relays uint16
	// seconds the mount needs after power-on
	spinup int
}

type Relay struct {
	statusCallback StatusCallback
	client         *modbus.Client

	mu     sync.Mutex
	board  layout
	known  bool
	coils  []bool
	inputs []bool
	polled bool
}

// Connect starts polling a relay board on a local serial port.
func Connect(ctx context.Context, port string, baud int, statusCallback StatusCallback) (*Relay, error) {
	return ConnectClient(ctx, &modbus.Client{
		Port:     port,
		BaudRate: baud,
		SlaveId:  1,
	}, statusCallback)
}

// ConnectClient starts polling through a preconfigured client, for a
// remote or in-process board.
func ConnectClient(ctx context.Context, client *modbus.Client, statusCallback StatusCallback) (*Relay, error) {
	r := &Relay{
		client:         client,
		statusCallback: statusCallback,
	}
	client.Setup = r.describe
	client.Poll = r.poll
	return r, client.Connect(ctx)
}

// describe reads the board layout once per connection, so a board
// swapped while unplugged is picked up on reconnect.
func (r *Relay) describe() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.known = false
	relays, err := readRegister(r.client.ReadInputRegisters, "relay count")
	if err != nil {
		return err
	}
	if relays == 0 {
		return errors.New("relay board reports no relays")
	}
	spinup, err := readRegister(r.client.ReadHoldingRegisters, "spin-up delay")
	if err != nil {
		return err
	}
	r.board = layout{relays: relays, spinup: int(spinup)}
	r.known = true
	return nil
}

func readRegister(read func(address, quantity uint16) ([]byte, error), name string) (uint16, error) {
	b, err := read(0, 1)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(b) < 2 {
		return 0, fmt.Errorf("reading %s: %d byte reply", name, len(b))
	}
	return binary.BigEndian.Uint16(b), nil
}

// poll samples the relay coils and the sense inputs behind them. Input 0
// is the supply, so there is one more input than relays.
func (r *Relay) poll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	coils, err := r.client.ReadCoils(0, r.board.relays)
	if err != nil {
		return fmt.Errorf("reading relays: %w", err)
	}
	inputs, err := r.client.ReadDiscreteInputs(0, r.board.relays+1)
	if err != nil {
		return fmt.Errorf("reading sense inputs: %w", err)
	}
	r.coils = modbus.BytesToBits(coils)
	r.inputs = modbus.BytesToBits(inputs)
	r.polled = true
	if r.statusCallback != nil {
		r.statusCallback(r.status())
	}
	return nil
}

func bit(bits []bool, i int) bool {
	return i < len(bits) && bits[i]
}

func (r *Relay) hasAccessory() bool {
	return int(r.board.relays) > coilAccessory
}

func (r *Relay) status() Status {
	return Status{
		SpinupDelay: r.board.spinup,

		CommandMountPower:     bit(r.coils, coilMount),
		CommandAccessoryPower: r.hasAccessory() && bit(r.coils, coilAccessory),

		SupplyPresent: bit(r.inputs, inputSupply),
		MountPowered:  bit(r.inputs, inputMount),
		AccessoryOn:   r.hasAccessory() && bit(r.inputs, inputAccessory),
	}
}

// Status returns the last polled state.
func (r *Relay) Status() (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.polled {
		return Status{}, ErrNoStatus
	}
	return r.status(), nil
}

func (r *Relay) SetMountPower(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client.WriteCoil(coilMount, enabled)
}

func (r *Relay) SetAccessoryPower(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known && !r.hasAccessory() {
		return ErrNoAccessoryRelay
	}
	return r.client.WriteCoil(coilAccessory, enabled)
}

// WaitPowered blocks until the board reports the mount energized, then
// waits out the board's spin-up delay (in seconds).
func (r *Relay) WaitPowered(ctx context.Context, log logging.Logger) error {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		if st, err := r.Status(); err == nil && st.MountPowered {
			logging.OrNoop(log).Info(ctx, "mount powered", logging.Int("spinupDelay", st.SpinupDelay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(st.SpinupDelay) * time.Second):
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
