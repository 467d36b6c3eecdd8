// Package config holds the resolved option set for a relay server instance.
//
// Options arrive either from an INI config file (one section per named
// device, DEFAULT as fallback) or programmatically. The core server treats
// a Config as an immutable value object: to reconfigure, build a new Config
// and a new server rather than mutating a live instance.
package config

import (
	"fmt"
	"time"

	"github.com/banshee-data/serial.relay/internal/device"
)

// Config describes one relay server: where it listens, which serial device
// it owns, and how lines are delimited on each side.
type Config struct {
	// Name is the INI section this config was loaded from, if any.
	Name string

	// Host and Port form the TCP listen address. Host may be empty to
	// listen on all interfaces.
	Host string
	Port int

	// Device is the serial device path, e.g. /dev/ttyS1.
	Device   string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	XonXoff  bool
	RTSCTS   bool

	// Timeout bounds the device open grace window and every device
	// read/write. It may only be changed while the server is not serving.
	Timeout time.Duration

	// PollInterval bounds how long the event loop waits for readiness
	// before re-checking the shutdown flag.
	PollInterval time.Duration

	// EOLSerial delimits lines on the device side, EOLSocket on the
	// client side. Replies have EOLSerial replaced with EOLSocket.
	EOLSerial []byte
	EOLSocket []byte

	// MaxLineBytes caps how many undelimited bytes a client may buffer
	// before it is disconnected.
	MaxLineBytes int
}

// Default returns a Config with the reference defaults applied. The listen
// port and device path have no defaults and must be set before use.
func Default() *Config {
	return &Config{
		BaudRate:     9600,
		DataBits:     8,
		Parity:       "N",
		StopBits:     1,
		Timeout:      time.Second,
		PollInterval: 200 * time.Millisecond,
		EOLSerial:    []byte("\n"),
		EOLSocket:    []byte("\n"),
		MaxLineBytes: 64 * 1024,
	}
}

// Validate checks the config for values that can never work. It is called
// by Load and again by the server before any resource is touched.
func (c *Config) Validate() error {
	// port 0 asks the kernel for an ephemeral port
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid listen port %d: must be between 0 and 65535", c.Port)
	}
	if c.Device == "" {
		return fmt.Errorf("serial device path is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative: %v", c.Timeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %v", c.PollInterval)
	}
	if len(c.EOLSerial) == 0 || len(c.EOLSocket) == 0 {
		return fmt.Errorf("EOL markers must not be empty")
	}
	if c.MaxLineBytes <= 0 {
		return fmt.Errorf("max line size must be positive: %d", c.MaxLineBytes)
	}
	if _, err := c.DeviceOptions().Normalize(); err != nil {
		return err
	}
	return nil
}

// DeviceOptions converts the serial fields into the options structure used
// when opening the device.
func (c *Config) DeviceOptions() device.Options {
	return device.Options{
		Path:     c.Device,
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   c.Parity,
		StopBits: c.StopBits,
		XonXoff:  c.XonXoff,
		RTSCTS:   c.RTSCTS,
		Timeout:  c.Timeout,
	}
}
