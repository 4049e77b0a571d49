// Command relay_server exposes a local Modbus relay board over HTTP for
// eqmountd --power_url.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/goburrow/modbus"
	"github.com/gorilla/mux"

	"github.com/w1xm/skywatcher/internal/logging"
	"github.com/w1xm/skywatcher/internal/modbus/modbushttp"
)

var (
	addr     = kingpin.Flag("addr", "address to listen on").Default("127.0.0.1:8503").String()
	password = kingpin.Flag("password", "password to require on remote connections").Envar("RELAY_PASSWORD").String()
	port     = kingpin.Flag("power_serial", "relay board serial port name").Required().String()
	baud     = kingpin.Flag("power_baud", "relay board baud rate").Default("19200").Int()
)

func main() {
	kingpin.Parse()
	log := logging.NewFromEnv()
	ctx := context.Background()

	handler := modbus.NewRTUClientHandler(*port)
	handler.BaudRate = *baud
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = 1 * time.Second
	handler.SlaveId = 1
	defer handler.Close()

	r := mux.NewRouter()
	r.Handle("/api/send", modbushttp.NewServer(handler, *password, log)).Methods(http.MethodPost)
	srv := &http.Server{
		Handler:      r,
		Addr:         *addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	log.Info(ctx, "listening", logging.String("addr", srv.Addr), logging.String("port", *port))
	if err := srv.ListenAndServe(); err != nil {
		log.Error(ctx, "serving", logging.Err(err))
		os.Exit(1)
	}
}
