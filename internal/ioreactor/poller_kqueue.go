//go:build darwin || freebsd || netbsd || openbsd

// File: internal/ioreactor/poller_kqueue.go
// kqueue(2)-based poller for BSD/Darwin, using EV_ONESHOT to present
// the same one-shot edge-triggered contract as the epoll backend.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ioreactor

import (
	"golang.org/x/sys/unix"
)

type kqueuePoller struct {
	kq int
}

// NewPoller constructs the kqueue-based Poller.
func NewPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{kq: kq}, nil
}

func (p *kqueuePoller) Monitor(fd int, interest Interest) error {
	var changes []unix.Kevent_t
	if interest.Read {
		var kv unix.Kevent_t
		unix.SetKevent(&kv, fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ONESHOT)
		changes = append(changes, kv)
	}
	if interest.Write {
		var kv unix.Kevent_t
		unix.SetKevent(&kv, fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ONESHOT)
		changes = append(changes, kv)
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Forget(fd int) error {
	var changes [2]unix.Kevent_t
	unix.SetKevent(&changes[0], fd, unix.EVFILT_READ, unix.EV_DELETE)
	unix.SetKevent(&changes[1], fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	_, err := unix.Kevent(p.kq, changes[:], nil, nil)
	return err
}

func (p *kqueuePoller) Wait(timeoutMs int, dst []Event) ([]Event, error) {
	var raw [256]unix.Kevent_t
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, raw[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	indexByFd := map[int]int{}
	for i := 0; i < n; i++ {
		e := raw[i]
		fd := int(e.Ident)
		idx, ok := indexByFd[fd]
		if !ok {
			dst = append(dst, Event{Fd: fd})
			idx = len(dst) - 1
			indexByFd[fd] = idx
		}
		switch e.Filter {
		case unix.EVFILT_READ:
			dst[idx].Readable = true
		case unix.EVFILT_WRITE:
			dst[idx].Writable = true
		}
		if e.Flags&unix.EV_ERROR != 0 {
			dst[idx].Errored = true
		}
	}
	return dst, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
