package modbus

import (
	"context"
	"time"

	"github.com/goburrow/modbus"

	"github.com/w1xm/skywatcher/internal/logging"
	"github.com/w1xm/skywatcher/internal/modbus/modbushttp"
)

// Handler is a Modbus transport with an explicit connection lifecycle.
type Handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type Client struct {
	// Port and BaudRate create a local serial connection
	Port string
	// BaudRate defaults to 19200
	BaudRate int
	SlaveId  byte
	// URL creates a remote connection through a relay server
	URL      string
	Password string
	// Handler, if set, is used instead of Port or URL
	Handler Handler

	// Setup, if set, runs once on every new connection before polling
	Setup func() error
	// Poll function to be called in a loop while the connection is active
	Poll func() error
	// PollInterval defaults to 100ms; ReconnectDelay to 1s
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	Logger         logging.Logger

	handler Handler
	log     logging.Logger
	modbus.Client
}

func (c *Client) Connect(ctx context.Context) error {
	if c.BaudRate == 0 {
		c.BaudRate = 19200
	}
	if c.SlaveId == 0 {
		c.SlaveId = 1
	}
	if c.PollInterval == 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	c.log = logging.OrNoop(c.Logger)

	switch {
	case c.Handler != nil:
		c.handler = c.Handler
	case c.URL != "":
		client := modbushttp.NewClient(c.URL)
		client.Password = c.Password
		client.SlaveId = c.SlaveId
		c.handler = client
	default:
		handler := modbus.NewRTUClientHandler(c.Port)
		handler.BaudRate = c.BaudRate
		handler.DataBits = 8
		handler.Parity = "N"
		handler.StopBits = 1
		handler.Timeout = 1 * time.Second
		handler.SlaveId = c.SlaveId
		c.handler = handler
	}

	c.Client = modbus.NewClient(c.handler)
	go c.reconnectLoop(ctx)
	return nil
}

func (c *Client) address() string {
	switch {
	case c.Handler != nil:
		return "in-process"
	case c.URL != "":
		return c.URL
	}
	return c.Port
}

func (c *Client) reconnectLoop(ctx context.Context) {
	port := c.address()
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.ReconnectDelay):
		}

		err := c.handler.Connect()
		if err != nil {
			c.log.Warn(ctx, "opening relay board", logging.String("port", port), logging.Err(err))
			continue
		}
		if err := c.watch(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn(ctx, "watching relay board", logging.String("port", port), logging.Err(err))
		}
	}
}

func (c *Client) watch(ctx context.Context) error {
	defer c.handler.Close()
	if c.Setup != nil {
		if err := c.Setup(); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.Poll(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

func (c *Client) WriteCoil(coil int, value bool) error {
	var v uint16
	if value {
		v = 0xFF00
	}
	_, err := c.WriteSingleCoil(uint16(coil), v)
	return err
}

func BytesToBits(bs []byte) []bool {
	var out []bool
	for _, b := range bs {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>uint(i)&1) == 1)
		}
	}
	return out
}
