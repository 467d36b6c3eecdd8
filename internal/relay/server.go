// Package relay implements a single-threaded, readiness-driven server that
// relays line-delimited commands from many TCP clients to one exclusively
// owned serial device, returning each reply to the client that issued the
// corresponding command.
//
// The server has three states: closed <-> open <-> serving. Open acquires
// the serial device (retrying transient busy conditions within a grace
// window) and the listening socket; Serve runs the event loop until Stop
// is called. All mutable state (command queue, active connections, poller,
// device handle) is owned exclusively by the loop goroutine, so commands
// are serviced in strict global FIFO order with no locking.
package relay

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/banshee-data/serial.relay/internal/config"
	"github.com/banshee-data/serial.relay/internal/device"
	"github.com/banshee-data/serial.relay/internal/timeutil"
)

const (
	// readChunk is the receive size for a single client read.
	readChunk = 4096
	// maxEvents bounds one readiness batch.
	maxEvents = 64
	// openRetryInterval is slept between attempts while the device
	// reports busy during the open grace window.
	openRetryInterval = 100 * time.Millisecond
)

// handlerKind tags a dispatch table entry.
type handlerKind uint8

const (
	kindListener handlerKind = iota
	kindClient
	kindSerial
)

// serialToken is the dispatch table key for the virtual serial member.
const serialToken = -1

type handlerEntry struct {
	kind handlerKind
	conn *clientConn
}

// Server relays commands between TCP clients and a single serial device.
// Open, Close and Serve must be called from one goroutine; Stop and State
// are safe to call from any goroutine at any time.
type Server struct {
	cfg    *config.Config
	log    *slog.Logger
	opener device.Opener
	clock  timeutil.Clock

	state   atomic.Uint32
	stopReq atomic.Bool

	// timeout governs the device open grace window and every device
	// read; mutable only while not serving.
	timeout time.Duration

	poller   *poller
	dev      device.Device
	listenFD int

	// handlers maps descriptor identity to its tagged dispatch entry.
	handlers map[int]*handlerEntry
	queue    commandQueue

	readBuf []byte
	events  []pollEvent
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithOpener replaces the device opener, enabling tests to substitute
// mock devices.
func WithOpener(open device.Opener) Option {
	return func(s *Server) { s.opener = open }
}

// WithClock replaces the wall clock used by the open retry loop.
func WithClock(c timeutil.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// New creates a closed server for the given configuration.
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		log:      slog.New(slog.DiscardHandler),
		opener:   device.Open,
		clock:    timeutil.RealClock{},
		timeout:  cfg.Timeout,
		listenFD: -1,
		handlers: make(map[int]*handlerEntry),
		readBuf:  make([]byte, readChunk),
		events:   make([]pollEvent, maxEvents),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(st ServerState) {
	s.state.Store(uint32(st))
}

// Addr returns the bound listen address, or "" when not open. Useful when
// the configured port is 0 and the kernel assigned one.
func (s *Server) Addr() string {
	if s.listenFD < 0 {
		return ""
	}
	return localAddr(s.listenFD)
}

// Timeout returns the device timeout currently in effect.
func (s *Server) Timeout() time.Duration {
	return s.timeout
}

// SetTimeout changes the device timeout. It fails while serving, since
// the value governs in-flight device transactions.
func (s *Server) SetTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("timeout cannot be negative: %v", d)
	}
	if s.State().IsServing() {
		return ErrServing
	}
	s.timeout = d
	if s.dev != nil {
		return s.dev.SetTimeout(d)
	}
	return nil
}

// Open acquires the serial device and the listening socket. It is a no-op
// when the server is already open or serving. A device reporting busy is
// retried every openRetryInterval until the grace window (one timeout)
// elapses; any other failure aborts immediately and is returned.
func (s *Server) Open() error {
	if s.State().IsOpen() {
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	// A previous failed open may have left partial state behind.
	s.discard()

	p, err := newPoller()
	if err != nil {
		return err
	}
	s.poller = p

	opts := s.cfg.DeviceOptions()
	opts.Timeout = s.timeout
	start := s.clock.Now()
	for {
		dev, err := s.opener(opts)
		if err == nil {
			s.dev = dev
			break
		}
		if !device.IsBusy(err) || s.clock.Since(start) >= s.timeout {
			s.discard()
			return fmt.Errorf("failed to open serial device %s: %w", s.cfg.Device, err)
		}
		s.log.Debug("serial device busy, retrying", "device", s.cfg.Device)
		s.clock.Sleep(openRetryInterval)
	}

	lfd, err := listenTCP(s.cfg.Host, s.cfg.Port)
	if err != nil {
		s.discard()
		return fmt.Errorf("failed to create listening socket: %w", err)
	}
	s.listenFD = lfd
	if err := s.poller.add(lfd, interestRead); err != nil {
		s.discard()
		return fmt.Errorf("failed to register listening socket: %w", err)
	}
	s.handlers[lfd] = &handlerEntry{kind: kindListener}

	s.setState(StateOpen)
	s.log.Info("server open", "addr", s.Addr(), "device", s.cfg.Device)
	return nil
}

// discard releases whatever resources are currently held, suppressing
// errors. Used to reset stale state before an open and to tear down after
// a failed one.
func (s *Server) discard() {
	for fd, h := range s.handlers {
		if h.kind == kindClient {
			unix.Shutdown(fd, unix.SHUT_RDWR)
			unix.Close(fd)
		}
	}
	clear(s.handlers)
	s.queue.clear()
	if s.listenFD >= 0 {
		unix.Shutdown(s.listenFD, unix.SHUT_RDWR)
		unix.Close(s.listenFD)
		s.listenFD = -1
	}
	if s.dev != nil {
		s.dev.Close()
		s.dev = nil
	}
	if s.poller != nil {
		s.poller.close()
		s.poller = nil
	}
}

// Close releases all resources and returns the server to the closed
// state. It fails with ErrServing while the event loop runs, and is a
// no-op when already closed. Teardown is best effort: individual close
// errors are suppressed.
func (s *Server) Close() error {
	switch {
	case s.State().IsServing():
		return ErrServing
	case s.State().IsClosed():
		return nil
	}
	s.discard()
	s.setState(StateClosed)
	s.log.Info("server closed")
	return nil
}

// Stop requests a cooperative shutdown of the event loop. It has no
// effect unless the server is serving and is safe to call from any
// goroutine, including a signal handler.
func (s *Server) Stop() {
	if s.State().IsServing() {
		s.stopReq.Store(true)
	}
}
