// Package device abstracts the synchronous serial transport that the relay
// server owns exclusively. The server only needs the small Device contract
// (write, flush, delimited read, close); the real implementation sits on
// go.bug.st/serial, and tests substitute mocks or pty-backed transports.
package device

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"golang.org/x/sys/unix"
)

// Device is the transaction-level contract the relay server requires from
// a serial device. All calls are synchronous and bounded by the configured
// timeout; ReadUntil returns whatever accumulated when the timeout elapses,
// without a distinct timeout error.
type Device interface {
	// Write writes p, returning the count actually accepted.
	Write(p []byte) (int, error)
	// Flush forces transmission of buffered output.
	Flush() error
	// ReadUntil reads until marker is observed or the timeout elapses,
	// returning the accumulated bytes including the marker if seen.
	ReadUntil(marker []byte) ([]byte, error)
	// SetTimeout changes the uniform read timeout.
	SetTimeout(d time.Duration) error
	// Close releases the device.
	Close() error
}

// Opener opens a device from resolved options. The server takes an Opener
// so tests can inject mock devices and busy-retry behavior.
type Opener func(opts Options) (Device, error)

// Transport is the raw byte channel a Device sits on. go.bug.st/serial's
// Port satisfies it directly; tests satisfy it with pty file descriptors.
type Transport interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds a single Read; an expired Read returns n==0
	// with a nil error.
	SetReadTimeout(t time.Duration) error
	// Drain blocks until buffered output has been transmitted.
	Drain() error
}

// Options describes the serial connection parameters used when opening the
// device. Parity uses the single-letter convention (N, E, O, M, S).
type Options struct {
	Path     string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	XonXoff  bool
	RTSCTS   bool
	Timeout  time.Duration
}

// Normalize validates the options and applies defaults for unset values.
func (o Options) Normalize() (Options, error) {
	opts := o

	if opts.BaudRate == 0 {
		opts.BaudRate = 9600
	}
	if opts.BaudRate < 0 {
		return opts, fmt.Errorf("invalid baud rate %d", opts.BaudRate)
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	if opts.Parity == "" {
		opts.Parity = "N"
	}
	switch opts.Parity {
	case "N", "E", "O", "M", "S":
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, O, M or S", opts.Parity)
	}

	if opts.Timeout < 0 {
		return opts, fmt.Errorf("timeout cannot be negative: %v", opts.Timeout)
	}

	return opts, nil
}

// mode converts normalized options into the structure go.bug.st/serial
// expects when opening a port.
func (o Options) mode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}

	switch opts.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	case "M":
		mode.Parity = serial.MarkParity
	case "S":
		mode.Parity = serial.SpaceParity
	}

	return mode, nil
}

// Open opens the serial device described by opts. Ports are opened
// exclusively; a port held by another process reports a busy error that
// IsBusy recognizes, so callers can retry within a grace window.
func Open(opts Options) (Device, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	if opts.XonXoff || opts.RTSCTS {
		return nil, fmt.Errorf("flow control is not supported by the serial transport")
	}

	mode, err := opts.mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(opts.Path, mode)
	if err != nil {
		return nil, err
	}

	return NewPort(port, opts.Timeout), nil
}

// IsBusy reports whether err indicates a transiently unavailable device,
// the condition tolerated during the open grace window.
func IsBusy(err error) bool {
	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PortBusy {
		return true
	}
	return errors.Is(err, unix.EBUSY)
}

// Port implements Device on top of a Transport.
type Port struct {
	t       Transport
	timeout time.Duration
}

// NewPort wraps a transport with the Device transaction contract.
func NewPort(t Transport, timeout time.Duration) *Port {
	return &Port{t: t, timeout: timeout}
}

// Write writes p to the transport, returning the count accepted.
func (p *Port) Write(b []byte) (int, error) {
	return p.t.Write(b)
}

// Flush forces transmission of buffered output.
func (p *Port) Flush() error {
	return p.t.Drain()
}

// ReadUntil reads one byte at a time until the accumulated bytes end with
// marker or the timeout elapses. Reading byte-wise guarantees nothing past
// the marker is consumed, so a late reply cannot bleed into the next
// transaction.
func (p *Port) ReadUntil(marker []byte) ([]byte, error) {
	deadline := time.Now().Add(p.timeout)
	var acc []byte
	buf := make([]byte, 1)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return acc, nil
		}
		if err := p.t.SetReadTimeout(remaining); err != nil {
			return acc, err
		}
		n, err := p.t.Read(buf)
		if err != nil {
			return acc, err
		}
		if n == 0 {
			// transport-level timeout
			return acc, nil
		}
		acc = append(acc, buf[0])
		if bytes.HasSuffix(acc, marker) {
			return acc, nil
		}
	}
}

// SetTimeout changes the read timeout used by subsequent ReadUntil calls.
func (p *Port) SetTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("timeout cannot be negative: %v", d)
	}
	p.timeout = d
	return nil
}

// Close releases the underlying transport.
func (p *Port) Close() error {
	return p.t.Close()
}
