package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"golang.org/x/sync/errgroup"

	"github.com/w1xm/skywatcher/coord"
	"github.com/w1xm/skywatcher/internal/logging"
	"github.com/w1xm/skywatcher/internal/metrics"
	"github.com/w1xm/skywatcher/internal/modbus"
	"github.com/w1xm/skywatcher/internal/server"
	"github.com/w1xm/skywatcher/mount"
	"github.com/w1xm/skywatcher/power"
	"github.com/w1xm/skywatcher/skywatcher"
	"github.com/w1xm/skywatcher/skywatcher/simulator"
)

var (
	serialPort = kingpin.Flag("serial", "mount serial port name").Envar("MOUNT_SERIAL").String()
	baud       = kingpin.Flag("baud", "mount baud rate").Default("9600").Int()
	timeout    = kingpin.Flag("timeout", "per-transaction timeout").Default("1s").Duration()
	retry      = kingpin.Flag("retry", "attempts per transaction").Default("2").Int()
	simulate   = kingpin.Flag("simulate", "drive an in-process simulated mount").Bool()
	listPorts  = kingpin.Flag("list-ports", "list serial ports and exit").Bool()

	latitude  = kingpin.Flag("latitude", "site latitude in degrees, north positive").Envar("SITE_LATITUDE").Required().Float64()
	longitude = kingpin.Flag("longitude", "site longitude in degrees, east positive").Envar("SITE_LONGITUDE").Required().Float64()
	elevation = kingpin.Flag("elevation", "site elevation in meters").Envar("SITE_ELEVATION").Float64()
	parkRA    = kingpin.Flag("park-ra", "RA axis park angle in degrees").Default("90").Float64()
	parkDec   = kingpin.Flag("park-dec", "Dec axis park angle in degrees").Default("90").Float64()
	swapSide  = kingpin.Flag("swap-side-of-pier", "report the opposite pier side").Bool()

	addr     = kingpin.Flag("addr", "HTTP address to listen on").Default("127.0.0.1:8502").String()
	lx200    = kingpin.Flag("lx200", "LX200 TCP address to listen on; empty disables").Default("127.0.0.1:4030").String()
	interval = kingpin.Flag("refresh", "status refresh interval").Default("500ms").Duration()

	powerSerial   = kingpin.Flag("power_serial", "relay board serial port name").String()
	powerBaud     = kingpin.Flag("power_baud", "relay board baud rate").Default("19200").Int()
	powerURL      = kingpin.Flag("power_url", "relay server send URL, e.g. http://host:8503/api/send").String()
	powerPassword = kingpin.Flag("power_password", "relay server password").Envar("RELAY_PASSWORD").String()

	logLevel  = kingpin.Flag("log-level", "debug, info, warn or error").Envar("LOG_LEVEL").Default("info").String()
	logFormat = kingpin.Flag("log-format", "console or json").Envar("LOG_FORMAT").Default("console").String()
)

func main() {
	kingpin.Parse()
	log := logging.New(logging.Config{Level: *logLevel, Format: *logFormat})

	if *listPorts {
		ports, err := skywatcher.ListPorts()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(ctx, "exiting", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log logging.Logger) error {
	collector, err := metrics.NewProtocolCollector(nil)
	if err != nil {
		return err
	}
	m := mount.New(mount.Config{
		Site:           coord.Site{Latitude: *latitude, Longitude: *longitude, Elevation: *elevation},
		Port:           *serialPort,
		BaudRate:       *baud,
		Timeout:        *timeout,
		Retry:          *retry,
		ParkPosition:   coord.NewAxisPosition(*parkRA, *parkDec, false),
		SwapSideOfPier: *swapSide,
		Logger:         log,
		Metrics:        collector,
	})

	g, ctx := errgroup.WithContext(ctx)

	s := server.NewServer(m, nil, log)
	if r, err := connectPower(ctx, s); err != nil {
		return err
	} else if r != nil {
		s.SetRelay(r)
		if err := powerUp(ctx, r, log); err != nil {
			return err
		}
	}

	switch {
	case *simulate:
		sim, conn := simulator.New(simulator.DefaultConfig())
		g.Go(func() error { return sim.Run(ctx) })
		if code, err := m.ConnectPort(ctx, conn); code != mount.Success {
			return fmt.Errorf("connecting simulator: %v: %w", code, err)
		}
	case *serialPort != "":
		if code, err := m.Connect(ctx, "", 0, 0, 0); code != mount.Success {
			// The operator can retry with a connect command.
			log.Warn(ctx, "connecting mount", logging.String("status", code.String()), logging.Err(err))
		}
	}

	g.Go(func() error { return s.Run(ctx, *interval) })

	if *lx200 != "" {
		a, err := s.ListenLX200(ctx, *lx200)
		if err != nil {
			return err
		}
		log.Info(ctx, "listening for LX200 clients", logging.String("addr", a.String()))
	}

	srv := &http.Server{
		Handler:      s.Router(collector.Handler()),
		Addr:         *addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		m.Disconnect(shutdownCtx)
		return ctx.Err()
	})
	g.Go(func() error {
		log.Info(ctx, "listening", logging.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	return g.Wait()
}

func connectPower(ctx context.Context, s *server.Server) (*power.Relay, error) {
	switch {
	case *powerSerial != "":
		return power.Connect(ctx, *powerSerial, *powerBaud, s.PowerCallback)
	case *powerURL != "":
		return power.ConnectClient(ctx, &modbus.Client{URL: *powerURL, Password: *powerPassword}, s.PowerCallback)
	}
	return nil, nil
}

// powerUp switches the mount relay on and waits for the board to confirm.
func powerUp(ctx context.Context, r *power.Relay, log logging.Logger) error {
	for {
		err := r.SetMountPower(true)
		if err == nil {
			break
		}
		log.Warn(ctx, "switching mount power", logging.Err(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return r.WaitPowered(ctx, log)
}
