// Package modbustest provides an in-memory relay board for tests and the
// daemon's simulation mode.
package modbustest

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/goburrow/modbus"
)

var ErrUnplugged = errors.New("relay board unplugged")

// Board is a relay board with one coil per relay. Input register 0 holds
// the relay count and holding register 0 a spin-up delay. Discrete input 0
// reports supply voltage; input i+1 follows coil i.
type Board struct {
	*modbus.RTUClientHandler

	mu        sync.Mutex
	delay     uint16
	coils     []bool
	supply    bool
	unplugged bool
	requests  int
}

func NewBoard(relays int, delay uint16) *Board {
	h := modbus.NewRTUClientHandler("")
	h.SlaveId = 1
	return &Board{
		RTUClientHandler: h,
		delay:            delay,
		coils:            make([]bool, relays),
		supply:           true,
	}
}

func (b *Board) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unplugged {
		return ErrUnplugged
	}
	return nil
}

func (b *Board) Close() error { return nil }

// SetUnplugged makes every request fail until cleared.
func (b *Board) SetUnplugged(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unplugged = v
}

func (b *Board) SetSupply(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.supply = v
}

// SetDelay changes the spin-up delay register.
func (b *Board) SetDelay(v uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = v
}

func (b *Board) Coil(i int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.coils[i]
}

// Requests counts frames answered so far.
func (b *Board) Requests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests
}

func (b *Board) inputs() []bool {
	in := []bool{b.supply}
	for _, c := range b.coils {
		in = append(in, c && b.supply)
	}
	return in
}

func packBits(bits []bool, address, quantity uint16) ([]byte, bool) {
	if int(address)+int(quantity) > len(bits) {
		return nil, false
	}
	out := make([]byte, (quantity+7)/8)
	for i := uint16(0); i < quantity; i++ {
		if bits[address+i] {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return append([]byte{byte(len(out))}, out...), true
}

func packRegisters(regs []uint16, address, quantity uint16) ([]byte, bool) {
	if int(address)+int(quantity) > len(regs) {
		return nil, false
	}
	out := []byte{byte(2 * quantity)}
	for _, r := range regs[address : address+quantity] {
		out = binary.BigEndian.AppendUint16(out, r)
	}
	return out, true
}

// Send answers one RTU request frame.
func (b *Board) Send(aduRequest []byte) ([]byte, error) {
	req, err := b.Decode(aduRequest)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unplugged {
		return nil, ErrUnplugged
	}
	b.requests++

	fc := req.FunctionCode
	var data []byte
	ok := len(req.Data) == 4
	if ok {
		address := binary.BigEndian.Uint16(req.Data)
		value := binary.BigEndian.Uint16(req.Data[2:])
		switch fc {
		case modbus.FuncCodeReadCoils:
			data, ok = packBits(b.coils, address, value)
		case modbus.FuncCodeReadDiscreteInputs:
			data, ok = packBits(b.inputs(), address, value)
		case modbus.FuncCodeReadInputRegisters:
			data, ok = packRegisters([]uint16{uint16(len(b.coils))}, address, value)
		case modbus.FuncCodeReadHoldingRegisters:
			data, ok = packRegisters([]uint16{b.delay}, address, value)
		case modbus.FuncCodeWriteSingleCoil:
			ok = int(address) < len(b.coils) && (value == 0 || value == 0xFF00)
			if ok {
				b.coils[address] = value == 0xFF00
				data = req.Data
			}
		default:
			ok = false
		}
	}
	if !ok {
		// Illegal data address.
		return b.Encode(&modbus.ProtocolDataUnit{FunctionCode: fc | 0x80, Data: []byte{0x02}})
	}
	return b.Encode(&modbus.ProtocolDataUnit{FunctionCode: fc, Data: data})
}
