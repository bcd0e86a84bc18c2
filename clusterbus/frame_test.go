// File: clusterbus/frame_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clusterbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		{Type: TypePublish, Channel: []byte("chat"), Payload: []byte("hello"), HasFilter: true, Filter: 42},
		{Type: TypeSubscribe, Pattern: true, Channel: []byte("news.*")},
		{Type: TypeUnsubscribe, Channel: []byte("chat")},
		{Type: TypePing},
		{Type: TypeShutdown},
		{Type: TypeIdentify, Payload: []byte("01234567-89ab-cdef-0123-456789abcdef")},
		{Type: TypePublish, Channel: nil, Payload: nil},
	}
	for _, f := range cases {
		buf := Encode(f)
		got, err := Decode(buf, 0)
		require.NoError(t, err)
		require.Equal(t, f.Type, got.Type)
		require.Equal(t, f.Pattern, got.Pattern)
		require.Equal(t, f.HasFilter, got.HasFilter)
		require.Equal(t, f.Filter, got.Filter)
		require.Equal(t, []byte(f.Channel), []byte(got.Channel))
		require.Equal(t, []byte(f.Payload), []byte(got.Payload))
	}
}

func TestDecodeBadMagic(t *testing.T) {
	buf := Encode(Frame{Type: TypePing})
	buf[0] ^= 0xFF
	_, err := Decode(buf, 0)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeFrameTooLarge(t *testing.T) {
	f := Frame{Type: TypePublish, Payload: make([]byte, 1024)}
	buf := Encode(f)
	_, err := Decode(buf, 100)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeTruncated(t *testing.T) {
	buf := Encode(Frame{Type: TypePublish, Channel: []byte("chat"), Payload: []byte("hello world")})
	_, err := Decode(buf[:len(buf)-3], 0)
	require.ErrorIs(t, err, ErrTruncated)
}
