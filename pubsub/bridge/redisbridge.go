// File: pubsub/bridge/redisbridge.go
// Redis implementation of Bridge over go-redis's PubSub support.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package bridge

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBridge subscribes to Redis channels via a single multiplexed
// PubSub connection, re-subscribing all tracked channels on Reconnect.
type RedisBridge struct {
	client *redis.Client
	onMsg  OnMessage

	mu     sync.Mutex
	ps     *redis.PubSub
	chans  map[string]struct{}
	cancel context.CancelFunc
}

// NewRedisBridge constructs a bridge over an already-configured client.
func NewRedisBridge(client *redis.Client, onMsg OnMessage) *RedisBridge {
	return &RedisBridge{
		client: client,
		onMsg:  onMsg,
		chans:  make(map[string]struct{}),
	}
}

func (b *RedisBridge) ensurePubSub(ctx context.Context) *redis.PubSub {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ps != nil {
		return b.ps
	}
	b.ps = b.client.Subscribe(ctx)
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	go b.recvLoop(loopCtx, b.ps)
	return b.ps
}

func (b *RedisBridge) recvLoop(ctx context.Context, ps *redis.PubSub) {
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if b.onMsg != nil {
				b.onMsg(msg.Channel, []byte(msg.Payload))
			}
		}
	}
}

// Subscribe implements Bridge.
func (b *RedisBridge) Subscribe(ctx context.Context, channel string) error {
	ps := b.ensurePubSub(ctx)
	if err := ps.Subscribe(ctx, channel); err != nil {
		return err
	}
	b.mu.Lock()
	b.chans[channel] = struct{}{}
	b.mu.Unlock()
	return nil
}

// Unsubscribe implements Bridge.
func (b *RedisBridge) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	ps := b.ps
	delete(b.chans, channel)
	b.mu.Unlock()
	if ps == nil {
		return nil
	}
	return ps.Unsubscribe(ctx, channel)
}

// Publish implements Bridge.
func (b *RedisBridge) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// Reconnect implements Bridge: tears down the current PubSub connection
// and re-subscribes every channel this bridge is tracking.
func (b *RedisBridge) Reconnect(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	if b.ps != nil {
		b.ps.Close()
		b.ps = nil
	}
	chans := make([]string, 0, len(b.chans))
	for c := range b.chans {
		chans = append(chans, c)
	}
	b.mu.Unlock()

	if len(chans) == 0 {
		return nil
	}
	ps := b.ensurePubSub(ctx)
	return ps.Subscribe(ctx, chans...)
}
