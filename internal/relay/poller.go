package relay

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// interest is the registered readiness interest set for a descriptor.
type interest uint8

const (
	interestRead interest = iota
	interestReadWrite
)

// pollEvent reports one ready descriptor from a wait batch.
type pollEvent struct {
	fd       int
	readable bool
	writable bool
}

// poller is a thin level-triggered epoll wrapper. It monitors the
// listening socket and all client sockets; the serial device is a virtual
// member handled by the event loop (see Server.armSerial), since the
// serial transport is buffered and timeout-bounded and therefore always
// accepts writes.
type poller struct {
	epfd int
	buf  []unix.EpollEvent
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create: %w", err)
	}
	return &poller{epfd: epfd, buf: make([]unix.EpollEvent, maxEvents)}, nil
}

func epollEvents(in interest) uint32 {
	ev := uint32(unix.EPOLLIN)
	if in == interestReadWrite {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *poller) add(fd int, in interest) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: epollEvents(in),
		Fd:     int32(fd),
	})
}

func (p *poller) modify(fd int, in interest) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: epollEvents(in),
		Fd:     int32(fd),
	})
}

func (p *poller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks for up to timeout and fills out with ready descriptors,
// returning the count. Interrupted waits are retried. Error and hangup
// conditions surface as readable so the read path observes them.
func (p *poller) wait(timeout time.Duration, out []pollEvent) (int, error) {
	ms := int(timeout / time.Millisecond)
	for {
		n, err := unix.EpollWait(p.epfd, p.buf, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("epoll_wait: %w", err)
		}
		for i := range n {
			ev := p.buf[i]
			out[i] = pollEvent{
				fd:       int(ev.Fd),
				readable: ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
				writable: ev.Events&unix.EPOLLOUT != 0,
			}
		}
		return n, nil
	}
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}
