// File: pubsub/pubsub_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pubsub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// syncDefer runs callbacks inline, standing in for a reactor's Defer
// hook in these single-threaded unit tests.
func syncDefer(fn func()) { fn() }

func TestSubscribeExactChannelDelivery(t *testing.T) {
	e := New(1)
	var got []Message
	var mu sync.Mutex
	e.Subscribe(SubscribeOpts{Channel: "chat", Cb: func(m Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	}})

	e.Publish(PublishOpts{Channel: "chat", Payload: []byte("hi")}, syncDefer)
	e.Publish(PublishOpts{Channel: "other", Payload: []byte("nope")}, syncDefer)

	require.Len(t, got, 1)
	require.Equal(t, "hi", string(got[0].Payload))
}

func TestPublishOrderPerChannel(t *testing.T) {
	e := New(1)
	var got []string
	e.Subscribe(SubscribeOpts{Channel: "c", Cb: func(m Message) {
		got = append(got, string(m.Payload))
	}})
	for i := 0; i < 100; i++ {
		e.Publish(PublishOpts{Channel: "c", Payload: []byte{byte(i)}}, syncDefer)
	}
	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, byte(i), v[0])
	}
}

func TestPatternSubscriptionUsesMatcher(t *testing.T) {
	e := New(1)
	var matched int
	e.Subscribe(SubscribeOpts{Pattern: "news.*", Cb: func(Message) { matched++ }})

	e.Publish(PublishOpts{Channel: "news.sports", Payload: []byte("x")}, syncDefer)
	e.Publish(PublishOpts{Channel: "weather", Payload: []byte("x")}, syncDefer)

	require.Equal(t, 1, matched)
}

func TestFilterTagRouting(t *testing.T) {
	e := New(1)
	var tagged, untagged int
	e.Subscribe(SubscribeOpts{Channel: "c", Filter: 42, Cb: func(Message) { tagged++ }})
	e.Subscribe(SubscribeOpts{Channel: "c", Cb: func(Message) { untagged++ }})

	e.Publish(PublishOpts{Channel: "c", Payload: []byte("x"), Filter: 42}, syncDefer)
	e.Publish(PublishOpts{Channel: "c", Payload: []byte("y"), Filter: 7}, syncDefer)

	require.Equal(t, 1, tagged)
	require.Equal(t, 2, untagged)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := New(1)
	var n int
	h := e.Subscribe(SubscribeOpts{Channel: "c", Cb: func(Message) { n++ }})
	e.Publish(PublishOpts{Channel: "c", Payload: nil}, syncDefer)
	e.Unsubscribe(h)
	e.Publish(PublishOpts{Channel: "c", Payload: nil}, syncDefer)
	require.Equal(t, 1, n)
}

func TestDeliverRemoteSuppressesOwnOriginator(t *testing.T) {
	e := New(99)
	var n int
	e.Subscribe(SubscribeOpts{Channel: "c", Cb: func(Message) { n++ }})

	e.DeliverRemote(Message{Channel: "c", Originator: 99}, syncDefer)
	require.Equal(t, 0, n, "own-originator relay must be suppressed")

	e.DeliverRemote(Message{Channel: "c", Originator: 5}, syncDefer)
	require.Equal(t, 1, n)
}
