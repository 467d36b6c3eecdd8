// Command serialrelay runs a network server that relays clients' queries
// to a serial device. The positional argument selects a section of the
// INI config file; without one the DEFAULT section is used.
//
// Config file syntax example:
//
//	[my_device_name]
//	listen_port = 4001
//	port = /dev/ttyS1
//	baudrate = 115200
//	bytesize = 8
//	stopbits = 1
//	parity = none
//	eol_ser = \r
//	timeout = 0.5
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/phsym/console-slog"

	"github.com/banshee-data/serial.relay/internal/config"
	"github.com/banshee-data/serial.relay/internal/relay"
	"github.com/banshee-data/serial.relay/internal/version"
)

var (
	configPath  = flag.String("config", "serial_relay.conf", "config file (INI format) specifying server and serial parameters")
	listen      = flag.String("listen", "", "override the listen address from the config, as host:port")
	verbose     = flag.Bool("verbose", false, "enable debug logging")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{Level: level}))

	if err := run(log, flag.Arg(0)); err != nil {
		log.Error("serial relay failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, name string) error {
	cfg, err := config.Load(*configPath, name)
	if err != nil {
		return err
	}
	if *listen != "" {
		host, portStr, err := net.SplitHostPort(*listen)
		if err != nil {
			return err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return err
		}
		cfg.Host, cfg.Port = host, port
	}

	srv := relay.New(cfg, relay.WithLogger(log))
	if err := srv.Open(); err != nil {
		return err
	}
	defer srv.Close()

	// graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutdown signal received, waiting to exit")
		srv.Stop()
	}()

	if err := srv.Serve(); err != nil {
		return err
	}
	log.Info("graceful shutdown complete")
	return nil
}
