package device

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

// MockDevice implements Device with scripted request/reply behavior for
// testing the relay without serial hardware. A command becomes visible in
// Transactions once Flush observes the configured EOL, and the following
// ReadUntil returns the scripted reply for it.
type MockDevice struct {
	mu sync.Mutex

	// EOL is the device-side line delimiter commands are expected to
	// carry. Defaults to "\n".
	EOL []byte

	// Script maps a command (without EOL) to its reply (without EOL).
	// Commands not in the script are echoed back with an "ACK:" prefix.
	Script map[string]string

	// MaxWrite caps how many bytes a single Write accepts, to exercise
	// partial-write handling. Zero means unlimited.
	MaxWrite int

	// ReplyDelay is slept inside ReadUntil before producing the reply.
	ReplyDelay time.Duration

	// Mute suppresses replies: ReadUntil returns nothing, as a device
	// read timeout would.
	Mute bool

	// WriteErr and ReadErr, when set, fail the next Write or ReadUntil.
	WriteErr error
	ReadErr  error

	// Transactions records every completed command in arrival order.
	Transactions []string

	pending []byte
	lastCmd string
	closed  bool
}

// NewMockDevice returns a mock with newline EOL and the given script.
func NewMockDevice(script map[string]string) *MockDevice {
	return &MockDevice{EOL: []byte("\n"), Script: script}
}

func (m *MockDevice) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("device closed")
	}
	if m.WriteErr != nil {
		err := m.WriteErr
		m.WriteErr = nil
		return 0, err
	}
	n := len(p)
	if m.MaxWrite > 0 && n > m.MaxWrite {
		n = m.MaxWrite
	}
	m.pending = append(m.pending, p[:n]...)
	return n, nil
}

// Flush completes the in-flight command if the pending bytes end with the
// device EOL.
func (m *MockDevice) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("device closed")
	}
	if !bytes.HasSuffix(m.pending, m.EOL) {
		return nil
	}
	cmd := string(bytes.TrimSuffix(m.pending, m.EOL))
	m.pending = nil
	m.lastCmd = cmd
	m.Transactions = append(m.Transactions, cmd)
	return nil
}

func (m *MockDevice) ReadUntil(marker []byte) ([]byte, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("device closed")
	}
	if m.ReadErr != nil {
		err := m.ReadErr
		m.ReadErr = nil
		m.mu.Unlock()
		return nil, err
	}
	delay := m.ReplyDelay
	mute := m.Mute
	cmd := m.lastCmd
	reply, scripted := "", false
	if m.Script != nil {
		reply, scripted = m.Script[cmd]
	}
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if mute {
		return nil, nil
	}
	if !scripted {
		reply = "ACK:" + cmd
	}
	return append([]byte(reply), marker...), nil
}

func (m *MockDevice) SetTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("timeout cannot be negative: %v", d)
	}
	return nil
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockDevice) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Commands returns a copy of the completed command log.
func (m *MockDevice) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Transactions))
	copy(out, m.Transactions)
	return out
}
