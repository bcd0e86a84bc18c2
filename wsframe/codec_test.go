package wsframe_test

import (
	"bytes"
	"testing"

	"github.com/momentics/fio/wsframe"
)

func roundTrip(t *testing.T, size int) {
	t.Helper()
	payload := bytes.Repeat([]byte{0x5A}, size)
	f := &wsframe.Frame{Fin: true, Opcode: wsframe.OpBinary, Payload: payload}
	encoded, err := wsframe.Write(f)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	got, n, err := wsframe.Parse(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("expected to consume %d bytes, consumed %d", len(encoded), n)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch for size %d", size)
	}
}

func TestRoundTripSizes(t *testing.T) {
	for _, size := range []int{0, 125, 126, 65535, 65536, 1_000_000} {
		roundTrip(t, size)
	}
}

func TestMaskedRoundTrip(t *testing.T) {
	payload := []byte("client payload")
	f := &wsframe.Frame{Fin: true, Opcode: wsframe.OpText, Masked: true, MaskKey: wsframe.NewClientMaskKey(), Payload: payload}
	encoded, err := wsframe.Write(f)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	got, _, err := wsframe.Parse(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("masked payload mismatch: got %q want %q", got.Payload, payload)
	}
}

func TestIncompleteFrameReturnsNilWithoutError(t *testing.T) {
	f := &wsframe.Frame{Fin: true, Opcode: wsframe.OpText, Payload: []byte("hello")}
	encoded, _ := wsframe.Write(f)
	got, n, err := wsframe.Parse(encoded[:3])
	if got != nil || n != 0 || err != nil {
		t.Fatalf("expected incomplete-frame sentinel, got frame=%v n=%d err=%v", got, n, err)
	}
}

func TestFragmentedTextAssembles(t *testing.T) {
	asm := wsframe.NewAssembler(0)
	frames := []*wsframe.Frame{
		{Fin: false, Opcode: wsframe.OpText, Payload: []byte("Hel")},
		{Fin: false, Opcode: wsframe.OpContinuation, Payload: []byte("lo ")},
		{Fin: true, Opcode: wsframe.OpContinuation, Payload: []byte("World")},
	}
	var msg *wsframe.Message
	for _, f := range frames {
		m, isControl, err := asm.Feed(f)
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		if isControl {
			t.Fatalf("unexpected control frame")
		}
		if m != nil {
			msg = m
		}
	}
	if msg == nil || string(msg.Payload) != "Hello World" {
		t.Fatalf("expected assembled message %q, got %v", "Hello World", msg)
	}
}

func TestControlFrameInterleavesDuringFragmentation(t *testing.T) {
	asm := wsframe.NewAssembler(0)
	if _, _, err := asm.Feed(&wsframe.Frame{Fin: false, Opcode: wsframe.OpText, Payload: []byte("a")}); err != nil {
		t.Fatal(err)
	}
	_, isControl, err := asm.Feed(&wsframe.Frame{Fin: true, Opcode: wsframe.OpPing, Payload: []byte("x")})
	if err != nil {
		t.Fatalf("ping during fragmentation should be accepted: %v", err)
	}
	if !isControl {
		t.Fatalf("expected ping to be reported as control frame")
	}
	msg, _, err := asm.Feed(&wsframe.Frame{Fin: true, Opcode: wsframe.OpContinuation, Payload: []byte("b")})
	if err != nil {
		t.Fatalf("feed final fragment: %v", err)
	}
	if msg == nil || string(msg.Payload) != "ab" {
		t.Fatalf("expected assembled message %q, got %v", "ab", msg)
	}
}

func TestOversizedControlFrameIsProtocolError(t *testing.T) {
	big := bytes.Repeat([]byte{1}, wsframe.MaxControlPayload+1)
	_, _, err := wsframe.Parse(mustFrameBytes(&wsframe.Frame{Fin: true, Opcode: wsframe.OpPing, Payload: big}))
	if err == nil {
		t.Fatalf("expected protocol error for oversized control frame")
	}
}

func mustFrameBytes(f *wsframe.Frame) []byte {
	// Bypass Write's own control-size guard to construct a malformed
	// wire frame for the parser-side validation test.
	out := []byte{0x80 | byte(f.Opcode), 126, byte(len(f.Payload) >> 8), byte(len(f.Payload))}
	out = append(out, f.Payload...)
	return out
}
