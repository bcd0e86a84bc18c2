// File: clusterbus/frame.go
// Package clusterbus implements the length-prefixed frame protocol
// exchanged between the supervisor's master process and its workers:
// a fixed 20-byte header followed by channel and payload bytes. All
// multi-byte integers are big-endian; frames above the configured
// per-frame limit (default 256 MiB) are a fatal protocol error.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clusterbus

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies a well-formed cluster-bus frame header.
const Magic uint32 = 0xF1AC1010

// HeaderSize is the fixed portion of every frame.
const HeaderSize = 20

// DefaultMaxFrameSize is the payload-length threshold beyond which a
// frame is treated as a fatal protocol error.
const DefaultMaxFrameSize = 256 << 20

// Type enumerates the six cluster-bus frame kinds.
type Type byte

const (
	TypeSubscribe   Type = 1
	TypeUnsubscribe Type = 2
	TypePublish     Type = 3
	TypePing        Type = 4
	TypeShutdown    Type = 5
	TypeIdentify    Type = 6
)

func (t Type) String() string {
	switch t {
	case TypeSubscribe:
		return "subscribe"
	case TypeUnsubscribe:
		return "unsubscribe"
	case TypePublish:
		return "publish"
	case TypePing:
		return "ping"
	case TypeShutdown:
		return "shutdown"
	case TypeIdentify:
		return "identify"
	default:
		return fmt.Sprintf("type(%d)", byte(t))
	}
}

// Flag bits within the frame header's flags byte.
const (
	FlagPattern   byte = 1 << 0
	FlagHasFilter byte = 1 << 1
)

// Frame is one decoded cluster-bus frame.
type Frame struct {
	Type      Type
	Pattern   bool   // flags bit0
	Filter    uint64 // valid only if HasFilter; flags bit1
	HasFilter bool
	Channel   []byte
	Payload   []byte
}

// ErrBadMagic is returned by Decode when the header's magic field
// doesn't match Magic. Bus corruption is fatal to the worker; the
// supervisor respawns it.
var ErrBadMagic = fmt.Errorf("clusterbus: bad magic")

// ErrFrameTooLarge is returned when a frame's declared payload length
// exceeds the configured limit.
var ErrFrameTooLarge = fmt.Errorf("clusterbus: frame exceeds max size")

// ErrTruncated is returned when fewer bytes are available than the
// frame's declared length.
var ErrTruncated = fmt.Errorf("clusterbus: truncated frame")

// Encode serializes f into its wire layout.
func Encode(f Frame) []byte {
	flags := byte(0)
	if f.Pattern {
		flags |= FlagPattern
	}
	if f.HasFilter {
		flags |= FlagHasFilter
	}

	buf := make([]byte, HeaderSize+len(f.Channel)+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = byte(f.Type)
	buf[5] = flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(f.Channel)))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(f.Payload)))
	binary.BigEndian.PutUint64(buf[12:20], f.Filter)
	copy(buf[20:20+len(f.Channel)], f.Channel)
	copy(buf[20+len(f.Channel):], f.Payload)
	return buf
}

// DecodeHeader parses just the fixed header, returning the channel and
// payload lengths the caller must then read. maxFrameSize of 0 selects
// DefaultMaxFrameSize.
func DecodeHeader(hdr []byte, maxFrameSize int) (t Type, flags byte, channelLen int, payloadLen int, filter uint64, err error) {
	if len(hdr) < HeaderSize {
		return 0, 0, 0, 0, 0, ErrTruncated
	}
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	if binary.BigEndian.Uint32(hdr[0:4]) != Magic {
		return 0, 0, 0, 0, 0, ErrBadMagic
	}
	t = Type(hdr[4])
	flags = hdr[5]
	channelLen = int(binary.BigEndian.Uint16(hdr[6:8]))
	payloadLen = int(binary.BigEndian.Uint32(hdr[8:12]))
	filter = binary.BigEndian.Uint64(hdr[12:20])
	if payloadLen > maxFrameSize {
		return 0, 0, 0, 0, 0, ErrFrameTooLarge
	}
	return t, flags, channelLen, payloadLen, filter, nil
}

// Decode parses a complete frame (header, channel, and payload already
// concatenated in buf). It is the inverse of Encode.
func Decode(buf []byte, maxFrameSize int) (Frame, error) {
	t, flags, channelLen, payloadLen, filter, err := DecodeHeader(buf, maxFrameSize)
	if err != nil {
		return Frame{}, err
	}
	need := HeaderSize + channelLen + payloadLen
	if len(buf) < need {
		return Frame{}, ErrTruncated
	}
	f := Frame{
		Type:      t,
		Pattern:   flags&FlagPattern != 0,
		HasFilter: flags&FlagHasFilter != 0,
		Filter:    filter,
		Channel:   append([]byte(nil), buf[HeaderSize:HeaderSize+channelLen]...),
		Payload:   append([]byte(nil), buf[HeaderSize+channelLen:need]...),
	}
	return f, nil
}
