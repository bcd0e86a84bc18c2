// File: internal/ioreactor/reactor_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ioreactor_test

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/momentics/fio/api"
	"github.com/momentics/fio/internal/connid"
	"github.com/momentics/fio/internal/ioreactor"
	"github.com/momentics/fio/transport"
)

// echoProtocol is the simplest possible api.Protocol: whatever bytes
// arrive via OnData are queued straight back out.
type echoProtocol struct {
	api.BaseProtocol
	r    *ioreactor.Reactor
	u    connid.UUID
	conn api.NetConn
	buf  []byte
}

func newEchoProtocol(r *ioreactor.Reactor, u connid.UUID, conn api.NetConn) *echoProtocol {
	return &echoProtocol{r: r, u: u, conn: conn, buf: make([]byte, 4096)}
}

// OnData drains the socket until EAGAIN, echoing each read back through
// the write queue.
func (e *echoProtocol) OnData(api.ConnUUID) {
	for {
		n, err := e.conn.Read(e.buf)
		if n > 0 {
			cp := append([]byte(nil), e.buf[:n]...)
			_ = e.r.EnqueueMemory(e.u, cp, nil)
		}
		if err != nil {
			if !errors.Is(err, syscall.EAGAIN) && !errors.Is(err, syscall.EWOULDBLOCK) {
				e.r.Close(e.u)
			}
			return
		}
	}
}

func dialLoopback(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptCh <- nil
			return
		}
		acceptCh <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server := <-acceptCh
	if server == nil {
		t.Fatalf("accept failed")
	}
	return server, client
}

func TestReactor_EchoRoundTrip(t *testing.T) {
	server, client := dialLoopback(t)
	defer client.Close()

	table := connid.NewTable(1024)
	r, err := ioreactor.New(table, ioreactor.Config{})
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}

	nc, err := transport.NewNetConn(server, nil)
	if err != nil {
		t.Fatalf("NewNetConn: %v", err)
	}
	u, err := r.Register(nc, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	proto := newEchoProtocol(r, u, nc)
	if err := r.Attach(u, proto); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	want := []byte("hello reactor")
	if _, err := client.Write(want); err != nil {
		t.Fatalf("client write: %v", err)
	}
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, len(want))
	if _, err := readFull(client, got); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("echo mismatch: got %q want %q", got, want)
	}
}

func TestReactor_StaleUUIDAfterClose(t *testing.T) {
	server, client := dialLoopback(t)
	defer client.Close()

	table := connid.NewTable(1024)
	r, err := ioreactor.New(table, ioreactor.Config{})
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}

	nc, err := transport.NewNetConn(server, nil)
	if err != nil {
		t.Fatalf("NewNetConn: %v", err)
	}
	u, err := r.Register(nc, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Attach(u, &api.BaseProtocol{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Close(u)
	// Give the reactor thread a chance to process the deferred close.
	time.Sleep(50 * time.Millisecond)

	if err := r.EnqueueMemory(u, []byte("late"), nil); err == nil {
		t.Fatalf("expected EnqueueMemory on a closed uuid to fail")
	}

	cancel()
	<-done
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
