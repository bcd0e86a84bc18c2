// File: wsframe/assembler.go
// Assembler accumulates fragmented data frames ({fin:0,op:1|2} followed
// by zero or more {fin:0,op:0} continuations and a final {fin:1,op:0})
// into one complete message, while letting interleaved control frames
// pass straight through, per RFC 6455 §5.4.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package wsframe

// Message is one fully-assembled application message.
type Message struct {
	Opcode  Opcode // the opcode of the frame that started the message
	Payload []byte
}

// Assembler is not safe for concurrent use; one per connection, driven
// from the connection's single reader.
type Assembler struct {
	maxSize int
	active  bool
	opcode  Opcode
	buf     []byte
}

// NewAssembler creates an assembler that closes the connection with
// StatusMessageTooBig if the accumulated payload exceeds maxSize (0
// means DefaultMaxMessageSize).
func NewAssembler(maxSize int) *Assembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Assembler{maxSize: maxSize}
}

// Feed processes one parsed frame. Control frames are returned via
// isControl=true and must be handled by the caller (ping/pong/close);
// they never participate in fragmentation. Data frames return a
// complete *Message only once fin=1 has been observed; until then it
// returns (nil, false, nil) and buffers the fragment.
func (a *Assembler) Feed(f *Frame) (msg *Message, isControl bool, err error) {
	if f.Opcode.IsControl() {
		return nil, true, nil
	}

	switch f.Opcode {
	case OpText, OpBinary:
		if a.active {
			return nil, false, protocolErr(StatusProtocolErr, "wsframe: new data frame while fragment in progress")
		}
		a.active = true
		a.opcode = f.Opcode
		a.buf = append(a.buf[:0], f.Payload...)
	case OpContinuation:
		if !a.active {
			return nil, false, protocolErr(StatusProtocolErr, "wsframe: continuation with no active message")
		}
		a.buf = append(a.buf, f.Payload...)
	default:
		return nil, false, protocolErr(StatusProtocolErr, "wsframe: unknown opcode")
	}

	if len(a.buf) > a.maxSize {
		a.reset()
		return nil, false, protocolErr(StatusMessageTooBig, "wsframe: assembled message exceeds max size")
	}

	if !f.Fin {
		return nil, false, nil
	}

	out := &Message{Opcode: a.opcode, Payload: a.buf}
	a.reset()
	return out, false, nil
}

func (a *Assembler) reset() {
	a.active = false
	a.buf = nil
}
