package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendInboundReassembly(t *testing.T) {
	c := &clientConn{}
	eol := []byte("\n")

	cmds := c.appendInbound([]byte("AB"), eol)
	assert.Empty(t, cmds)
	assert.Equal(t, []byte("AB"), c.in)

	cmds = c.appendInbound([]byte("CD\n"), eol)
	assert.Equal(t, [][]byte{[]byte("ABCD")}, cmds)
	assert.Empty(t, c.in)
}

func TestAppendInboundMultipleLines(t *testing.T) {
	c := &clientConn{}
	cmds := c.appendInbound([]byte("one\ntwo\nthr"), []byte("\n"))
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, cmds)
	assert.Equal(t, []byte("thr"), c.in)

	cmds = c.appendInbound([]byte("ee\n"), []byte("\n"))
	assert.Equal(t, [][]byte{[]byte("three")}, cmds)
	assert.Empty(t, c.in)
}

func TestAppendInboundMultiByteEOL(t *testing.T) {
	c := &clientConn{}
	cmds := c.appendInbound([]byte("STATUS\r\nVER"), []byte("\r\n"))
	assert.Equal(t, [][]byte{[]byte("STATUS")}, cmds)
	assert.Equal(t, []byte("VER"), c.in)
}

func TestAppendInboundEmptyLine(t *testing.T) {
	c := &clientConn{}
	cmds := c.appendInbound([]byte("\n"), []byte("\n"))
	assert.Equal(t, [][]byte{{}}, cmds)
	assert.Empty(t, c.in)
}

func TestCommandQueueFIFO(t *testing.T) {
	var q commandQueue
	a, b := &clientConn{fd: 1}, &clientConn{fd: 2}

	q.push(pendingCommand{payload: []byte("first"), owner: a})
	q.push(pendingCommand{payload: []byte("second"), owner: b})
	q.push(pendingCommand{payload: []byte("third"), owner: a})
	assert.Equal(t, 3, q.len())

	assert.Equal(t, []byte("first"), q.pop().payload)
	got := q.pop()
	assert.Equal(t, []byte("second"), got.payload)
	assert.Same(t, b, got.owner)
	assert.Equal(t, []byte("third"), q.pop().payload)
	assert.True(t, q.empty())
}

func TestCommandQueueClear(t *testing.T) {
	var q commandQueue
	q.push(pendingCommand{payload: []byte("x")})
	q.clear()
	assert.True(t, q.empty())
	assert.Equal(t, 0, q.len())
}

func TestServerStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "serving", StateServing.String())
	assert.True(t, StateServing.IsOpen())
	assert.False(t, StateClosed.IsOpen())
}
