// File: pubsub/pubsub.go
// Package pubsub implements the in-process channel/pattern matching
// engine: an exact-channel index, a linear pattern index scanned at
// publish time, filter-tag routing, and originator-based deduplication
// against cluster-bus re-delivery. Callback invocation is handed to a
// caller-supplied Defer function so it always runs on the subscribing
// connection's reactor thread rather than the publisher's goroutine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pubsub

import (
	"sync"
	"sync/atomic"
)

// Message is one pub/sub publication.
type Message struct {
	Channel    string
	Payload    []byte
	Filter     uint64 // 0 means "no filter"
	Originator uint64 // process instance id that produced this message
	local      bool   // true if produced in this process (vs. relayed from the bus)

	// Hint carries an optional pre-computed metadata cache (e.g. a
	// WebSocket-framed copy of the payload) so fan-out can skip
	// re-encoding per subscriber. It is handed unchanged to every
	// matching subscriber; it is not keyed by filter tag.
	Hint any
}

// Matcher reports whether pattern matches channel. A default glob
// matcher is provided by Glob.
type Matcher func(channel, pattern string) bool

// Callback receives a delivered message. It runs on the subscribing
// connection's reactor thread via the Defer hook passed to Publish.
type Callback func(msg Message)

// Handle addresses a subscription created by Subscribe, for Unsubscribe.
type Handle uint64

type subscription struct {
	handle  Handle
	channel string // exact channel, used when pattern == ""
	pattern string // non-empty enables pattern matching via matcher
	matcher Matcher
	filter  uint64
	cb      Callback
	udata   any
}

// FanoutSink receives the number of subscriber callbacks dispatched by
// one publish, for the pub/sub fan-out metric.
type FanoutSink interface {
	IncFanout(n int)
}

// Engine is the process-wide (per-worker) pub/sub index. It is safe
// for concurrent Subscribe/Unsubscribe/Publish from any goroutine.
type Engine struct {
	mu       sync.RWMutex
	byChan   map[string][]*subscription
	patterns []*subscription
	nextID   atomic.Uint64

	// originator identifies this process for dedup: a publication
	// originating here is delivered locally and forwarded to the bus,
	// but bus re-delivery of our own publication back to us must be
	// suppressed.
	originator uint64

	metrics FanoutSink
}

// SetMetrics attaches a fan-out sink. Intended to be called once during
// setup, before Publish/DeliverRemote are reachable from other
// goroutines.
func (e *Engine) SetMetrics(m FanoutSink) { e.metrics = m }

// New constructs an empty engine. originator should be a value stable
// for the lifetime of the process (e.g. the supervisor-assigned worker
// id).
func New(originator uint64) *Engine {
	return &Engine{
		byChan:     make(map[string][]*subscription),
		originator: originator,
	}
}

// Originator returns this engine's process instance id.
func (e *Engine) Originator() uint64 { return e.originator }

// SubscribeOpts is the {channel, matcher?, callback, udata, filter}
// tuple describing one subscription.
type SubscribeOpts struct {
	Channel string
	Pattern string // if non-empty, Matcher is used instead of exact match
	Matcher Matcher
	Filter  uint64
	Udata   any
	Cb      Callback
}

// Subscribe registers cb against channel (exact match) or pattern
// (matched via Matcher, defaulting to Glob). Returns a handle for
// Unsubscribe. The caller is responsible for auto-revoking
// connection-scoped subscriptions on OnClose.
func (e *Engine) Subscribe(opts SubscribeOpts) Handle {
	if opts.Pattern != "" && opts.Matcher == nil {
		opts.Matcher = Glob
	}
	sub := &subscription{
		handle:  Handle(e.nextID.Add(1)),
		channel: opts.Channel,
		pattern: opts.Pattern,
		matcher: opts.Matcher,
		filter:  opts.Filter,
		cb:      opts.Cb,
		udata:   opts.Udata,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if sub.pattern != "" {
		e.patterns = append(e.patterns, sub)
	} else {
		e.byChan[sub.channel] = append(e.byChan[sub.channel], sub)
	}
	return sub.handle
}

// Unsubscribe revokes a subscription. Safe to call twice; the second
// call is a no-op.
func (e *Engine) Unsubscribe(h Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch, subs := range e.byChan {
		for i, s := range subs {
			if s.handle == h {
				e.byChan[ch] = append(subs[:i], subs[i+1:]...)
				if len(e.byChan[ch]) == 0 {
					delete(e.byChan, ch)
				}
				return
			}
		}
	}
	for i, s := range e.patterns {
		if s.handle == h {
			e.patterns = append(e.patterns[:i], e.patterns[i+1:]...)
			return
		}
	}
}

// PublishOpts is the {channel, payload, filter} tuple for one publication.
type PublishOpts struct {
	Channel string
	Payload []byte
	Filter  uint64
	Hint    any
}

// Defer is the hook Publish uses to run a matched callback on the
// subscribing connection's own reactor thread. The reactor's Defer
// method satisfies this signature.
type Defer func(fn func())

// Publish delivers a locally-originated message to every matching local
// subscriber: exact-channel subscriptions first, then each pattern
// subscription whose matcher accepts the channel. It does not talk to
// the cluster bus; wiring local publication to bus forwarding is the
// caller's responsibility (see ClusterLink), which is what makes the
// dedup-by-originator rule in DeliverRemote meaningful.
func (e *Engine) Publish(opts PublishOpts, defer_ Defer) {
	msg := Message{
		Channel:    opts.Channel,
		Payload:    opts.Payload,
		Filter:     opts.Filter,
		Originator: e.originator,
		local:      true,
		Hint:       opts.Hint,
	}
	e.deliver(msg, defer_)
}

// DeliverRemote delivers a message relayed from the cluster bus. A
// publication is suppressed here if its originator is this process —
// it was already delivered locally by Publish, and delivering it again
// would break exactly-once delivery.
func (e *Engine) DeliverRemote(msg Message, defer_ Defer) {
	if msg.Originator == e.originator {
		return
	}
	msg.local = false
	e.deliver(msg, defer_)
}

// WasLocal reports whether msg originated from this process's own
// Publish call (as opposed to a cluster-bus relay).
func (m Message) WasLocal() bool { return m.local }

func (e *Engine) deliver(msg Message, defer_ Defer) {
	e.mu.RLock()
	exact := append([]*subscription(nil), e.byChan[msg.Channel]...)
	patterns := append([]*subscription(nil), e.patterns...)
	e.mu.RUnlock()

	dispatched := 0
	for _, s := range exact {
		if !filterMatches(s.filter, msg.Filter) {
			continue
		}
		s := s
		defer_(func() { s.cb(msg) })
		dispatched++
	}
	for _, s := range patterns {
		if !s.matcher(msg.Channel, s.pattern) {
			continue
		}
		if !filterMatches(s.filter, msg.Filter) {
			continue
		}
		s := s
		defer_(func() { s.cb(msg) })
		dispatched++
	}
	if e.metrics != nil {
		e.metrics.IncFanout(dispatched)
	}
}

// SubscriptionCount reports the number of live subscriptions across
// both indexes, for debug probes.
func (e *Engine) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.patterns)
	for _, subs := range e.byChan {
		n += len(subs)
	}
	return n
}

// filterMatches: a non-zero subscription tag delivers only when tags
// match; a zero subscription tag receives everything regardless of the
// message's tag.
func filterMatches(subFilter, msgFilter uint64) bool {
	if subFilter == 0 {
		return true
	}
	return subFilter == msgFilter
}
