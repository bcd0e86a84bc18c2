// File: pubsub/clusterlink.go
// ClusterLink wires a local pubsub.Engine to a clusterbus.Conn so that
// Publish flows Publisher -> Engine (local delivery) -> bus (to master)
// -> bus (to every other worker) -> Engine (local delivery). It depends
// only on clusterbus.Conn's Send/Recv, not on the supervisor package,
// so it can be unit-tested against a plain io.Pipe-backed Conn.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pubsub

import (
	"github.com/hashicorp/go-hclog"

	"github.com/momentics/fio/clusterbus"
)

// ClusterLink forwards local publications to the bus and relayed bus
// frames back into the local Engine.
type ClusterLink struct {
	engine *Engine
	conn   *clusterbus.Conn
	defer_ Defer
	log    hclog.Logger
}

// NewClusterLink binds engine to conn. defer_ is the same reactor Defer
// hook Publish uses, ensuring bus-relayed deliveries also run on the
// subscriber's reactor thread.
func NewClusterLink(engine *Engine, conn *clusterbus.Conn, defer_ Defer, log hclog.Logger) *ClusterLink {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &ClusterLink{engine: engine, conn: conn, defer_: defer_, log: log.Named("clusterlink")}
}

// Publish delivers opts locally and forwards it to the bus so every
// other worker's Engine also receives it.
func (l *ClusterLink) Publish(opts PublishOpts) error {
	l.engine.Publish(opts, l.defer_)
	return l.conn.Send(clusterbus.Frame{
		Type:      clusterbus.TypePublish,
		HasFilter: opts.Filter != 0,
		Filter:    opts.Filter,
		Channel:   []byte(opts.Channel),
		Payload:   opts.Payload,
	})
}

// Subscribe registers opts locally and, for connection/process-scoped
// subscriptions meant to be visible cluster-wide, announces interest
// over the bus so a remote bridge or future protocol version could use
// it for routing optimization; local pattern matching happens entirely
// in Engine regardless.
func (l *ClusterLink) Subscribe(opts SubscribeOpts) (Handle, error) {
	h := l.engine.Subscribe(opts)
	flags := opts.Pattern != ""
	channel := opts.Channel
	if flags {
		channel = opts.Pattern
	}
	err := l.conn.Send(clusterbus.Frame{
		Type:      clusterbus.TypeSubscribe,
		Pattern:   flags,
		HasFilter: opts.Filter != 0,
		Filter:    opts.Filter,
		Channel:   []byte(channel),
	})
	return h, err
}

// Unsubscribe revokes h locally; it does not retract the bus-level
// subscribe announcement, since the bus protocol has no handle concept
// and channel interest is idempotent to re-announce.
func (l *ClusterLink) Unsubscribe(h Handle) { l.engine.Unsubscribe(h) }

// RunRecvLoop blocks, reading frames from conn and delivering publish
// frames into the local Engine via DeliverRemote, until conn.Recv
// returns an error (including io.EOF on bus shutdown). Intended to run
// in its own goroutine per worker.
func (l *ClusterLink) RunRecvLoop() error {
	for {
		f, err := l.conn.Recv()
		if err != nil {
			return err
		}
		switch f.Type {
		case clusterbus.TypePublish:
			// The master's Hub excludes this worker's own publications
			// from relay (clusterbus.Hub.RelayExcept), so every frame
			// reaching this loop is genuinely foreign. Originator is
			// left at its zero value; DeliverRemote's equality guard
			// against this Engine's own id is inert under that relay.
			l.engine.DeliverRemote(Message{
				Channel: string(f.Channel),
				Payload: f.Payload,
				Filter:  f.Filter,
			}, l.defer_)
		case clusterbus.TypeShutdown:
			return nil
		case clusterbus.TypeSubscribe, clusterbus.TypeUnsubscribe, clusterbus.TypeIdentify, clusterbus.TypePing:
			// No local action: these are bookkeeping/liveness frames;
			// matching itself is always local to each worker's Engine.
		}
	}
}
