//go:build linux

package protocol_test

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/fio/internal/connid"
	"github.com/momentics/fio/internal/ioreactor"
	"github.com/momentics/fio/protocol"
	"github.com/momentics/fio/wsframe"
)

// fdConn adapts a raw non-blocking fd to api.NetConn using direct
// syscalls, bypassing the Go runtime netpoller so Read reliably returns
// EAGAIN instead of blocking once the peer's buffer is drained.
type fdConn struct{ fd int }

func (c *fdConn) Read(p []byte) (int, error)  { return unix.Read(c.fd, p) }
func (c *fdConn) Write(p []byte) (int, error) { return unix.Write(c.fd, p) }
func (c *fdConn) Close() error                { return unix.Close(c.fd) }
func (c *fdConn) RawFD() uintptr              { return uintptr(c.fd) }

func newSocketpair(t *testing.T) (server *fdConn, peer int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	return &fdConn{fd: fds[0]}, fds[1]
}

type captureHandler struct{ got chan []byte }

func (h *captureHandler) OnMessage(op wsframe.Opcode, payload []byte) {
	cp := append([]byte(nil), payload...)
	h.got <- cp
}

func TestWSProtocolEchoesPingAndDeliversMessage(t *testing.T) {
	table := connid.NewTable(16)
	r, err := ioreactor.New(table, ioreactor.Config{})
	if err != nil {
		t.Fatalf("new reactor: %v", err)
	}

	server, peerFD := newSocketpair(t)
	defer unix.Close(peerFD)

	u, err := r.Register(server, 0)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	h := &captureHandler{got: make(chan []byte, 1)}
	proto := protocol.NewWSProtocol(r, server, u, 0, false, h)
	if err := r.Attach(u, proto); err != nil {
		t.Fatalf("attach: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	defer r.Close(u)

	// Client sends a masked text frame, as RFC 6455 requires of clients.
	msg := &wsframe.Frame{Fin: true, Opcode: wsframe.OpText, Masked: true, MaskKey: wsframe.NewClientMaskKey(), Payload: []byte("hello")}
	wire, err := wsframe.Write(msg)
	if err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if _, err := unix.Write(peerFD, wire); err != nil {
		t.Fatalf("write to peer fd: %v", err)
	}

	select {
	case got := <-h.got:
		if string(got) != "hello" {
			t.Fatalf("expected %q, got %q", "hello", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for assembled message")
	}

	// Inject a masked ping; the protocol must reply with a pong
	// carrying the same payload.
	ping := &wsframe.Frame{Fin: true, Opcode: wsframe.OpPing, Masked: true, MaskKey: wsframe.NewClientMaskKey(), Payload: []byte("x")}
	pingWire, err := wsframe.Write(ping)
	if err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if _, err := unix.Write(peerFD, pingWire); err != nil {
		t.Fatalf("write ping to peer fd: %v", err)
	}

	// peerFD is blocking, so this read waits for the reactor to flush
	// the pong.
	reply := make([]byte, 64)
	n, err := unix.Read(peerFD, reply)
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	pong, _, err := wsframe.Parse(reply[:n])
	if err != nil || pong == nil {
		t.Fatalf("parse pong: frame=%v err=%v", pong, err)
	}
	if pong.Opcode != wsframe.OpPong || string(pong.Payload) != "x" {
		t.Fatalf("expected pong %q, got opcode=%v payload=%q", "x", pong.Opcode, pong.Payload)
	}
}
