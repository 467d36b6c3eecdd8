package device

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"golang.org/x/sys/unix"
)

func TestOptionsNormalizeDefaults(t *testing.T) {
	opts, err := Options{Path: "/dev/ttyS0"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 9600, opts.BaudRate)
	assert.Equal(t, 8, opts.DataBits)
	assert.Equal(t, "N", opts.Parity)
	assert.Equal(t, 1, opts.StopBits)
}

func TestOptionsNormalizeErrors(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"negative baud", Options{BaudRate: -1}},
		{"data bits too small", Options{DataBits: 4}},
		{"data bits too large", Options{DataBits: 9}},
		{"bad stop bits", Options{StopBits: 3}},
		{"bad parity", Options{Parity: "Q"}},
		{"negative timeout", Options{Timeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.opts.Normalize()
			assert.Error(t, err)
		})
	}
}

func TestOptionsMode(t *testing.T) {
	mode, err := Options{BaudRate: 115200, DataBits: 7, Parity: "E", StopBits: 2}.mode()
	require.NoError(t, err)
	assert.Equal(t, 115200, mode.BaudRate)
	assert.Equal(t, 7, mode.DataBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(unix.EBUSY))
	assert.True(t, IsBusy(fmt.Errorf("open: %w", unix.EBUSY)))
	assert.False(t, IsBusy(errors.New("no such device")))
	assert.False(t, IsBusy(nil))
}

// fakeTransport feeds scripted chunks to sequential reads, then reports a
// transport timeout (n==0) forever.
type fakeTransport struct {
	chunks  [][]byte
	timeout time.Duration
	drained int
	closed  bool
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	if len(f.chunks) == 0 {
		return 0, nil
	}
	n := copy(p, f.chunks[0])
	if n == len(f.chunks[0]) {
		f.chunks = f.chunks[1:]
	} else {
		f.chunks[0] = f.chunks[0][n:]
	}
	return n, nil
}

func (f *fakeTransport) Write(p []byte) (int, error)          { return len(p), nil }
func (f *fakeTransport) Close() error                         { f.closed = true; return nil }
func (f *fakeTransport) SetReadTimeout(d time.Duration) error { f.timeout = d; return nil }
func (f *fakeTransport) Drain() error                         { f.drained++; return nil }

func TestPortReadUntilStopsAtMarker(t *testing.T) {
	ft := &fakeTransport{chunks: [][]byte{[]byte("PO"), []byte("NG\rextra")}}
	p := NewPort(ft, time.Second)

	got, err := p.ReadUntil([]byte("\r"))
	require.NoError(t, err)
	assert.Equal(t, []byte("PONG\r"), got)
	// bytes after the marker stay in the transport
	assert.Equal(t, []byte("extra"), ft.chunks[0])
}

func TestPortReadUntilMultiByteMarker(t *testing.T) {
	ft := &fakeTransport{chunks: [][]byte{[]byte("OK\r"), []byte("\n")}}
	p := NewPort(ft, time.Second)

	got, err := p.ReadUntil([]byte("\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("OK\r\n"), got)
}

func TestPortReadUntilTimeoutReturnsPartial(t *testing.T) {
	ft := &fakeTransport{chunks: [][]byte{[]byte("PAR")}}
	p := NewPort(ft, 50*time.Millisecond)

	start := time.Now()
	got, err := p.ReadUntil([]byte("\n"))
	require.NoError(t, err)
	assert.Equal(t, []byte("PAR"), got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPortFlushAndClose(t *testing.T) {
	ft := &fakeTransport{}
	p := NewPort(ft, time.Second)
	require.NoError(t, p.Flush())
	assert.Equal(t, 1, ft.drained)
	require.NoError(t, p.Close())
	assert.True(t, ft.closed)
}

func TestPortSetTimeout(t *testing.T) {
	p := NewPort(&fakeTransport{}, time.Second)
	assert.Error(t, p.SetTimeout(-time.Second))
	assert.NoError(t, p.SetTimeout(2*time.Second))
}

func TestMockDeviceScriptedReply(t *testing.T) {
	m := NewMockDevice(map[string]string{"PING": "PONG"})
	m.EOL = []byte("\r")

	n, err := m.Write([]byte("PING\r"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, m.Flush())

	reply, err := m.ReadUntil([]byte("\r"))
	require.NoError(t, err)
	assert.Equal(t, []byte("PONG\r"), reply)
	assert.Equal(t, []string{"PING"}, m.Commands())
}

func TestMockDevicePartialWrites(t *testing.T) {
	m := NewMockDevice(nil)
	m.MaxWrite = 2

	payload := []byte("HELLO\n")
	for len(payload) > 0 {
		n, err := m.Write(payload)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 2)
		payload = payload[n:]
	}
	require.NoError(t, m.Flush())
	assert.Equal(t, []string{"HELLO"}, m.Commands())
}

func TestMockDeviceMute(t *testing.T) {
	m := NewMockDevice(nil)
	m.Mute = true
	_, err := m.Write([]byte("X\n"))
	require.NoError(t, err)
	require.NoError(t, m.Flush())
	reply, err := m.ReadUntil([]byte("\n"))
	require.NoError(t, err)
	assert.Empty(t, reply)
}
