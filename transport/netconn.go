// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"fmt"
	"net"
	"syscall"

	"github.com/momentics/fio/pool"
)

// NetConn adapts a standard net.Conn (TCP, Unix, or any type exposing
// SyscallConn) to api.NetConn, giving the reactor (internal/ioreactor)
// the raw fd it needs for poller registration while keeping a
// pool-backed scratch buffer for callers that want a pooled read
// instead of supplying their own buffer.
type NetConn struct {
	conn net.Conn
	pool pool.BytePool
	fd   uintptr
}

// NewNetConn wraps conn, resolving its raw fd eagerly so RawFD is cheap
// and side-effect-free afterward. p may be nil; ReadPooled then falls
// back to an ad hoc allocation.
func NewNetConn(conn net.Conn, p pool.BytePool) (*NetConn, error) {
	fd, err := rawFD(conn)
	if err != nil {
		return nil, err
	}
	return &NetConn{conn: conn, pool: p, fd: fd}, nil
}

// Read fills buf from the connection without blocking: on unix this is
// a raw read(2) on the already-nonblocking fd, so it returns EAGAIN
// when the socket is drained instead of parking the calling goroutine
// on Go's netpoller. The reactor's dispatch loop depends on that.
func (n *NetConn) Read(buf []byte) (int, error) { return n.readFD(buf) }

// Write writes buf to the connection without blocking; returns EAGAIN
// when the kernel send buffer is full, which the write queue reports
// upward as WouldBlock.
func (n *NetConn) Write(buf []byte) (int, error) { return n.writeFD(buf) }

// Close closes the underlying connection.
func (n *NetConn) Close() error { return n.conn.Close() }

// RawFD returns the OS-level file descriptor backing this connection,
// as required by api.NetConn for poller/reactor registration.
func (n *NetConn) RawFD() uintptr { return n.fd }

// ReadPooled reads into a buffer borrowed from the configured pool
// (or a fresh allocation if no pool was supplied), returning both the
// slice and the byte count; callers must return the slice via
// ReleasePooled once done with it.
func (n *NetConn) ReadPooled() ([]byte, int, error) {
	var buf []byte
	if n.pool != nil {
		buf = n.pool.Get()
	} else {
		buf = make([]byte, 64*1024)
	}
	nr, err := n.Read(buf)
	return buf, nr, err
}

// ReleasePooled returns a buffer obtained from ReadPooled to the pool.
// A no-op if this NetConn was constructed without a pool.
func (n *NetConn) ReleasePooled(buf []byte) {
	if n.pool != nil {
		n.pool.Put(buf)
	}
}

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

func rawFD(conn net.Conn) (uintptr, error) {
	sc, ok := conn.(syscallConner)
	if !ok {
		return 0, fmt.Errorf("transport: %T does not support SyscallConn", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("transport: SyscallConn: %w", err)
	}
	var fd uintptr
	ctrlErr := raw.Control(func(f uintptr) { fd = f })
	if ctrlErr != nil {
		return 0, fmt.Errorf("transport: raw.Control: %w", ctrlErr)
	}
	return fd, nil
}
