// File: protocol/wsproto.go
// Package protocol implements the per-connection callback vtables the
// reactor dispatches into. WSProtocol drives a single WebSocket
// connection: it reads raw bytes handed to it by the reactor's OnData
// callback, parses frames via wsframe, handles control frames inline,
// assembles fragmented messages, and exposes Send* methods that go
// through the reactor's write queue.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package protocol

import (
	"errors"
	"sync"
	"syscall"

	"github.com/momentics/fio/api"
	"github.com/momentics/fio/internal/connid"
	"github.com/momentics/fio/internal/ioreactor"
	"github.com/momentics/fio/wsframe"
)

// Handler receives fully-assembled application messages.
type Handler interface {
	OnMessage(opcode wsframe.Opcode, payload []byte)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(opcode wsframe.Opcode, payload []byte)

func (f HandlerFunc) OnMessage(opcode wsframe.Opcode, payload []byte) { f(opcode, payload) }

// WSProtocol implements api.Protocol for one WebSocket connection.
type WSProtocol struct {
	api.BaseProtocol

	reactor  *ioreactor.Reactor
	conn     api.NetConn
	uuid     connid.UUID
	isClient bool

	mu      sync.Mutex
	asm     *wsframe.Assembler
	readBuf []byte
	pending []byte // unconsumed tail carried across OnData invocations

	handler Handler

	stats Stats
}

// Stats holds per-connection traffic counters.
type Stats struct {
	BytesReceived, BytesSent   int64
	FramesReceived, FramesSent int64
}

// NewWSProtocol constructs a server-side (unmasked outbound) protocol by
// default; set isClient to mask outbound frames and expect unmasked
// inbound ones instead.
func NewWSProtocol(reactor *ioreactor.Reactor, conn api.NetConn, uuid connid.UUID, maxMessageSize int, isClient bool, handler Handler) *WSProtocol {
	return &WSProtocol{
		reactor:  reactor,
		conn:     conn,
		uuid:     uuid,
		isClient: isClient,
		asm:      wsframe.NewAssembler(maxMessageSize),
		readBuf:  make([]byte, 64*1024),
		handler:  handler,
	}
}

// pooledConn is the capability api.NetConn implementations may
// optionally offer (transport.NetConn does) to borrow the read buffer
// from a shared buffer pool instead of OnData's own fixed
// readBuf, and hand it back once the bytes have been copied into pending.
type pooledConn interface {
	ReadPooled() ([]byte, int, error)
	ReleasePooled(buf []byte)
}

// OnData is invoked by the reactor when the socket is readable. At most
// one invocation is ever in flight per connection (guaranteed by the
// reactor's trylock dispatch), so readBuf needs no locking; the mutex
// guards pending, which OnClose also resets.
func (p *WSProtocol) OnData(u api.ConnUUID) {
	pc, pooled := p.conn.(pooledConn)
	for {
		var buf []byte
		var n int
		var err error
		if pooled {
			buf, n, err = pc.ReadPooled()
		} else {
			buf = p.readBuf
			n, err = p.conn.Read(buf)
		}
		if n > 0 {
			p.mu.Lock()
			p.pending = append(p.pending, buf[:n]...)
			p.mu.Unlock()
			p.drainFrames()
		}
		if pooled {
			pc.ReleasePooled(buf)
		}
		if err != nil {
			if isWouldBlockErr(err) {
				return
			}
			// EOF or hard error: begin orderly close of the uuid;
			// nothing to send.
			p.reactor.Close(p.uuid)
			return
		}
		if n == 0 {
			return
		}
	}
}

func isWouldBlockErr(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

func (p *WSProtocol) drainFrames() {
	for {
		p.mu.Lock()
		buf := p.pending
		p.mu.Unlock()

		f, n, err := wsframe.Parse(buf)
		if err != nil {
			var perr *wsframe.ErrProtocol
			if errors.As(err, &perr) {
				p.sendClose(perr.Status)
			}
			p.reactor.Close(p.uuid)
			return
		}
		if f == nil {
			return // incomplete; wait for more bytes
		}

		p.mu.Lock()
		p.pending = p.pending[n:]
		p.mu.Unlock()

		p.stats.FramesReceived++
		p.stats.BytesReceived += int64(len(f.Payload))

		if !p.isClient && !f.Masked {
			// RFC 6455 §5.1: a server that receives an unmasked
			// frame must fail the connection with 1002. Control
			// frames from a conformant client are masked too.
			p.sendClose(wsframe.StatusProtocolErr)
			p.reactor.Close(p.uuid)
			return
		}

		msg, isControl, ferr := p.asm.Feed(f)
		if ferr != nil {
			var perr *wsframe.ErrProtocol
			if errors.As(ferr, &perr) {
				p.sendClose(perr.Status)
			}
			p.reactor.Close(p.uuid)
			return
		}
		if isControl {
			p.handleControl(f)
			continue
		}
		if msg != nil && p.handler != nil {
			p.handler.OnMessage(msg.Opcode, msg.Payload)
		}
	}
}

func (p *WSProtocol) handleControl(f *wsframe.Frame) {
	switch f.Opcode {
	case wsframe.OpPing:
		p.reactor.MarkPing(p.uuid)
		_ = p.sendFrame(wsframe.OpPong, f.Payload)
	case wsframe.OpPong:
		p.reactor.MarkPing(p.uuid)
	case wsframe.OpClose:
		_ = p.sendFrame(wsframe.OpClose, f.Payload)
		p.reactor.Close(p.uuid)
	default:
		// Reserved control opcode (0xB-0xF): unknown opcodes close
		// the connection with a protocol error.
		p.sendClose(wsframe.StatusProtocolErr)
		p.reactor.Close(p.uuid)
	}
}

// OnPing is invoked by the reactor's idle-timeout check when no ping or
// pong was observed during the connection's timeout window; unlike
// api.BaseProtocol's no-op OnPing, it closes the connection.
func (p *WSProtocol) OnPing(u api.ConnUUID) {
	p.reactor.Close(p.uuid)
}

func (p *WSProtocol) sendClose(status int) {
	payload := []byte{byte(status >> 8), byte(status)}
	_ = p.sendFrame(wsframe.OpClose, payload)
}

// SendText enqueues a text message.
func (p *WSProtocol) SendText(payload []byte) error { return p.sendFrame(wsframe.OpText, payload) }

// SendBinary enqueues a binary message.
func (p *WSProtocol) SendBinary(payload []byte) error { return p.sendFrame(wsframe.OpBinary, payload) }

// SendPreEncoded writes an already wire-encoded frame buffer directly,
// the pub/sub fast path for cached WebSocket-framed publications —
// bypassing Write/masking entirely since the buffer was produced for
// this exact (masked-or-not) peer type.
func (p *WSProtocol) SendPreEncoded(raw []byte) error {
	cp := append([]byte(nil), raw...)
	return p.reactor.EnqueueMemory(p.uuid, cp, nil)
}

func (p *WSProtocol) sendFrame(op wsframe.Opcode, payload []byte) error {
	f := &wsframe.Frame{Fin: true, Opcode: op, Payload: payload}
	if p.isClient {
		f.Masked = true
		f.MaskKey = wsframe.NewClientMaskKey()
	}
	data, err := wsframe.Write(f)
	if err != nil {
		return err
	}
	p.stats.FramesSent++
	p.stats.BytesSent += int64(len(payload))
	return p.reactor.EnqueueMemory(p.uuid, data, nil)
}

// OnClose drops any unparsed bytes carried across OnData calls.
func (p *WSProtocol) OnClose(api.ConnUUID) {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
}

// Stats returns a snapshot of connection counters.
func (p *WSProtocol) Stats() Stats { return p.stats }
