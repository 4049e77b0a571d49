package skywatcher

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
	"go.bug.st/serial/enumerator"
)

// Port is the byte stream to the motor controller.
type Port io.ReadWriteCloser

// readPoll is how long a serial read blocks before reporting no data.
// Transaction timeouts are enforced by Protocol.
const readPoll = 50 * time.Millisecond

// OpenSerial opens name at baud, 8N1 without flow control.
func OpenSerial(name string, baud int) (Port, error) {
	c := &serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readPoll,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
	p, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", name, err)
	}
	return p, nil
}

type PortInfo struct {
	Name         string
	USB          bool
	VID, PID     string
	SerialNumber string
	Product      string
}

func (p PortInfo) String() string {
	if !p.USB {
		return p.Name
	}
	return fmt.Sprintf("%s (USB %s:%s %s %s)", p.Name, p.VID, p.PID, p.Product, p.SerialNumber)
}

// ListPorts enumerates the serial ports on this machine.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, PortInfo{
			Name:         p.Name,
			USB:          p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return out, nil
}
