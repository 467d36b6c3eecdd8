package device

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ptyTransport adapts a pty file to the Transport contract, mapping read
// deadlines to the transport timeout convention (n==0, nil error).
type ptyTransport struct {
	f *os.File
}

func (t *ptyTransport) Read(p []byte) (int, error) {
	n, err := t.f.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, nil
	}
	return n, err
}

func (t *ptyTransport) Write(p []byte) (int, error) { return t.f.Write(p) }
func (t *ptyTransport) Close() error                { return t.f.Close() }
func (t *ptyTransport) Drain() error                { return nil }

func (t *ptyTransport) SetReadTimeout(d time.Duration) error {
	return t.f.SetReadDeadline(time.Now().Add(d))
}

func TestPortOverPty(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port := NewPort(&ptyTransport{f: master}, time.Second)

	// the device side answers through the slave end
	_, err = slave.Write([]byte("PONG\r"))
	require.NoError(t, err)

	reply, err := port.ReadUntil([]byte("\r"))
	require.NoError(t, err)
	assert.Equal(t, []byte("PONG\r"), reply)
}

func TestPortOverPtyTimeout(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port := NewPort(&ptyTransport{f: master}, 100*time.Millisecond)

	start := time.Now()
	reply, err := port.ReadUntil([]byte("\r"))
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Empty(t, reply)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}
