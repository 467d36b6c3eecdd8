package relay

import "bytes"

// clientConn holds the buffered state for one connected client: the socket
// descriptor, partial inbound bytes awaiting a delimiter, undelivered
// outbound reply bytes, and the currently registered interest set.
type clientConn struct {
	fd       int
	in       []byte
	out      []byte
	interest interest
}

// appendInbound accumulates freshly received bytes and splits the inbound
// buffer on the socket EOL marker. Complete segments are returned as
// commands (copied, since the buffer is reused); the trailing, possibly
// empty remainder is retained as the new inbound buffer.
func (c *clientConn) appendInbound(p, eol []byte) [][]byte {
	c.in = append(c.in, p...)
	if !bytes.Contains(c.in, eol) {
		return nil
	}
	chunks := bytes.Split(c.in, eol)
	rest := chunks[len(chunks)-1]
	cmds := make([][]byte, 0, len(chunks)-1)
	for _, chunk := range chunks[:len(chunks)-1] {
		cmds = append(cmds, bytes.Clone(chunk))
	}
	c.in = append(c.in[:0], rest...)
	return cmds
}
