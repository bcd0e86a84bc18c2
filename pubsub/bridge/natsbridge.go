// File: pubsub/bridge/natsbridge.go
// NATS implementation of Bridge, the second concrete broker adapter
// alongside RedisBridge.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package bridge

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"
)

// NatsBridge adapts a *nats.Conn to the Bridge contract, one
// subscription object per tracked channel (NATS has no multiplexed
// subscribe call the way Redis does).
type NatsBridge struct {
	conn  *nats.Conn
	onMsg OnMessage

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewNatsBridge constructs a bridge over an already-connected *nats.Conn.
func NewNatsBridge(conn *nats.Conn, onMsg OnMessage) *NatsBridge {
	return &NatsBridge{
		conn:  conn,
		onMsg: onMsg,
		subs:  make(map[string]*nats.Subscription),
	}
}

// Subscribe implements Bridge.
func (b *NatsBridge) Subscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[channel]; ok {
		return nil
	}
	sub, err := b.conn.Subscribe(channel, func(m *nats.Msg) {
		if b.onMsg != nil {
			b.onMsg(m.Subject, m.Data)
		}
	})
	if err != nil {
		return err
	}
	b.subs[channel] = sub
	return nil
}

// Unsubscribe implements Bridge.
func (b *NatsBridge) Unsubscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	sub, ok := b.subs[channel]
	delete(b.subs, channel)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// Publish implements Bridge.
func (b *NatsBridge) Publish(_ context.Context, channel string, payload []byte) error {
	return b.conn.Publish(channel, payload)
}

// Reconnect implements Bridge: NATS's client reconnects transparently
// under the hood, so Reconnect here just re-establishes our
// subscriptions against the (possibly new) server-side session, which
// nats.go does automatically on reconnect for subscriptions created
// through this same *nats.Conn — this is therefore a verification pass
// rather than a rebuild.
func (b *NatsBridge) Reconnect(ctx context.Context) error {
	if err := b.conn.FlushWithContext(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for channel, sub := range b.subs {
		if sub.IsValid() {
			continue
		}
		newSub, err := b.conn.Subscribe(channel, func(m *nats.Msg) {
			if b.onMsg != nil {
				b.onMsg(m.Subject, m.Data)
			}
		})
		if err != nil {
			return err
		}
		b.subs[channel] = newSub
	}
	return nil
}
