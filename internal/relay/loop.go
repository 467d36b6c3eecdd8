package relay

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Serve runs the event loop until Stop is called or a device fault
// occurs. The server is opened first if necessary. Each iteration waits
// for readiness for at most one poll interval so the stop flag is
// observed promptly even when no I/O is happening. Whatever way the loop
// exits, every remaining client connection is force-closed and the server
// returns to the open state.
//
// A hard device I/O error terminates the loop and is returned: the device
// is the single shared resource, so per-command containment would leave
// every client waiting on a dead port. Device read timeouts are not
// faults; they yield truncated replies.
func (s *Server) Serve() error {
	switch {
	case s.State().IsServing():
		return ErrServing
	case s.State().IsClosed():
		if err := s.Open(); err != nil {
			return err
		}
	}

	s.stopReq.Store(false)
	s.setState(StateServing)
	s.log.Info("serving", "addr", s.Addr())

	defer func() {
		for _, h := range s.handlers {
			if h.kind == kindClient {
				s.closeConn(h.conn)
			}
		}
		s.setState(StateOpen)
	}()

	for !s.stopReq.Load() {
		timeout := s.cfg.PollInterval
		_, serialReady := s.handlers[serialToken]
		if serialReady {
			// a queued command is waiting; collect any socket
			// events without blocking and service it
			timeout = 0
		}

		n, err := s.poller.wait(timeout, s.events)
		if err != nil {
			return err
		}
		for _, ev := range s.events[:n] {
			if s.stopReq.Load() {
				break
			}
			if err := s.dispatch(ev); err != nil {
				return err
			}
		}
		if serialReady && !s.stopReq.Load() {
			if err := s.dispatch(pollEvent{fd: serialToken, writable: true}); err != nil {
				return err
			}
		}
	}

	s.log.Info("serve loop stopped")
	return nil
}

// dispatch routes one readiness event by the tag of its table entry.
// Events for descriptors closed earlier in the same batch find no entry
// and are dropped.
func (s *Server) dispatch(ev pollEvent) error {
	h, ok := s.handlers[ev.fd]
	if !ok {
		return nil
	}
	switch h.kind {
	case kindListener:
		if ev.readable {
			s.acceptClient()
		}
	case kindClient:
		if ev.readable {
			s.readClient(h.conn)
		} else if ev.writable {
			s.writeClient(h.conn)
		}
	case kindSerial:
		if ev.writable {
			return s.transact()
		}
	}
	return nil
}

func (s *Server) acceptClient() {
	fd, _, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if !errors.Is(err, unix.EAGAIN) {
			s.log.Warn("accept failed", "error", err)
		}
		return
	}
	c := &clientConn{fd: fd, interest: interestRead}
	if err := s.poller.add(fd, interestRead); err != nil {
		s.log.Warn("failed to register client", "fd", fd, "error", err)
		unix.Close(fd)
		return
	}
	s.handlers[fd] = &handlerEntry{kind: kindClient, conn: c}
	s.log.Debug("client connected", "fd", fd, "remote", peerAddr(fd))
}

// readClient receives one chunk from a client. Zero bytes means the peer
// closed; errors are contained to this connection. Complete lines become
// queued commands; queuing into an empty queue arms the serial channel
// for write.
func (s *Server) readClient(c *clientConn) {
	n, err := unix.Read(c.fd, s.readBuf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return
		}
		s.log.Debug("client read failed", "fd", c.fd, "error", err)
		s.closeConn(c)
		return
	}
	if n == 0 {
		s.closeConn(c)
		return
	}

	cmds := c.appendInbound(s.readBuf[:n], s.cfg.EOLSocket)
	if len(cmds) > 0 {
		if s.queue.empty() {
			s.armSerial()
		}
		for _, cmd := range cmds {
			s.queue.push(pendingCommand{payload: cmd, owner: c})
		}
	}
	if len(c.in) > s.cfg.MaxLineBytes {
		s.log.Warn("client exceeded max pending line size",
			"fd", c.fd, "buffered", len(c.in), "limit", s.cfg.MaxLineBytes)
		s.closeConn(c)
	}
}

// writeClient sends as much of the outbound buffer as the socket accepts
// and retains the remainder. A fully drained connection goes back to
// read-only interest.
func (s *Server) writeClient(c *clientConn) {
	n, err := unix.Write(c.fd, c.out)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return
		}
		s.log.Debug("client write failed", "fd", c.fd, "error", err)
		s.closeConn(c)
		return
	}
	c.out = c.out[n:]
	if len(c.out) == 0 {
		c.out = nil
		s.setInterest(c, interestRead)
	}
}

// transact performs one full device transaction for the oldest queued
// command: write the payload with the device EOL appended (looping over
// partial writes), flush, then block on the reply until the device EOL or
// the timeout. The translated reply is appended to the owning client's
// outbound buffer, or discarded if that client is gone.
func (s *Server) transact() error {
	cmd := s.queue.pop()
	if s.queue.empty() {
		s.disarmSerial()
	}

	payload := append(cmd.payload, s.cfg.EOLSerial...)
	for len(payload) > 0 {
		n, err := s.dev.Write(payload)
		if err != nil {
			return fmt.Errorf("device write failed: %w", err)
		}
		payload = payload[n:]
	}
	if err := s.dev.Flush(); err != nil {
		return fmt.Errorf("device flush failed: %w", err)
	}

	reply, err := s.dev.ReadUntil(s.cfg.EOLSerial)
	if err != nil {
		return fmt.Errorf("device read failed: %w", err)
	}
	reply = bytes.ReplaceAll(reply, s.cfg.EOLSerial, s.cfg.EOLSocket)

	c := cmd.owner
	if !s.isActive(c) {
		s.log.Debug("discarding reply for disconnected client", "fd", c.fd)
		return nil
	}
	if len(c.out) == 0 {
		s.setInterest(c, interestReadWrite)
	}
	c.out = append(c.out, reply...)
	return nil
}

// armSerial registers the virtual serial member for write dispatch.
// Invariant: armed if and only if the command queue is non-empty.
func (s *Server) armSerial() {
	if _, ok := s.handlers[serialToken]; !ok {
		s.handlers[serialToken] = &handlerEntry{kind: kindSerial}
	}
}

func (s *Server) disarmSerial() {
	delete(s.handlers, serialToken)
}

// isActive reports whether c is still the live connection for its
// descriptor. Comparing the entry pointer guards against descriptor
// reuse after a disconnect.
func (s *Server) isActive(c *clientConn) bool {
	h, ok := s.handlers[c.fd]
	return ok && h.conn == c
}

func (s *Server) setInterest(c *clientConn, in interest) {
	if c.interest == in {
		return
	}
	if err := s.poller.modify(c.fd, in); err != nil {
		s.log.Warn("failed to update interest", "fd", c.fd, "error", err)
		return
	}
	c.interest = in
}

func (s *Server) closeConn(c *clientConn) {
	if !s.isActive(c) {
		return
	}
	delete(s.handlers, c.fd)
	s.poller.remove(c.fd)
	unix.Shutdown(c.fd, unix.SHUT_RDWR)
	unix.Close(c.fd)
	s.log.Debug("client disconnected", "fd", c.fd)
}
