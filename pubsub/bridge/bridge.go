// File: pubsub/bridge/bridge.go
// Package bridge defines the four-operation contract for an optional
// external pub/sub broker: {subscribe, unsubscribe, publish,
// reconnect}. A Bridge hands inbound external messages to the
// OnMessage callback given to its constructor; nothing in this package
// subscribes a Bridge to the local process's channels or feeds its
// messages into a pubsub.Engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package bridge

import "context"

// Bridge is the external pub/sub broker contract.
type Bridge interface {
	// Subscribe registers interest in an external channel; inbound
	// messages are delivered through the OnMessage callback supplied
	// to the concrete constructor, not returned here.
	Subscribe(ctx context.Context, channel string) error
	// Unsubscribe cancels a previous Subscribe.
	Unsubscribe(ctx context.Context, channel string) error
	// Publish forwards a local publication to the external broker.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Reconnect re-establishes the broker connection after a failure,
	// re-subscribing every channel the bridge believes is still active.
	Reconnect(ctx context.Context) error
}

// OnMessage is invoked by a concrete Bridge implementation when the
// external broker delivers a message on a subscribed channel.
type OnMessage func(channel string, payload []byte)
