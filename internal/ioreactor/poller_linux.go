//go:build linux

// File: internal/ioreactor/poller_linux.go
// Linux epoll(7)-based poller, one-shot via EPOLLONESHOT.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ioreactor

import (
	"golang.org/x/sys/unix"
)

type epollPoller struct {
	epfd int
}

// NewPoller constructs the Linux epoll-based Poller.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: epfd}, nil
}

func flagsFor(i Interest) uint32 {
	var ev uint32 = unix.EPOLLONESHOT
	if i.Read {
		ev |= unix.EPOLLIN
	}
	if i.Write {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) Monitor(fd int, interest Interest) error {
	ev := &unix.EpollEvent{Events: flagsFor(interest), Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
	if err != nil {
		// Not yet registered; add it.
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	}
	return nil
}

func (p *epollPoller) Forget(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(timeoutMs int, dst []Event) ([]Event, error) {
	var raw [256]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, raw[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i := 0; i < n; i++ {
		e := raw[i]
		dst = append(dst, Event{
			Fd:       int(e.Fd),
			Readable: e.Events&unix.EPOLLIN != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			Errored:  e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return dst, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
