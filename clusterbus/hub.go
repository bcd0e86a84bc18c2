// File: clusterbus/hub.go
// Hub is the master-side relay: a worker sends publish upstream to the
// master and the master relays it to the other workers, so in-process
// and cross-process fan-out behave identically. The Hub also fans out
// subscribe/unsubscribe bookkeeping frames and shutdown/ping control
// frames.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clusterbus

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Hub multiplexes frames from any worker to every worker, run from the
// master process. It does not itself read sockets; the master's relay
// loop feeds it frames as they arrive.
type Hub struct {
	log hclog.Logger

	mu      sync.RWMutex
	workers map[uint64]*Conn // keyed by worker id
}

// NewHub constructs an empty relay hub.
func NewHub(log hclog.Logger) *Hub {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Hub{log: log.Named("clusterbus-hub"), workers: make(map[uint64]*Conn)}
}

// AddWorker registers a worker's Conn for relay fan-out.
func (h *Hub) AddWorker(id uint64, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers[id] = conn
}

// RemoveWorker deregisters a worker, e.g. after it exits.
func (h *Hub) RemoveWorker(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.workers, id)
}

// WorkerCount reports how many workers are currently registered.
func (h *Hub) WorkerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.workers)
}

// Relay broadcasts f to every registered worker. Send errors on
// individual workers are logged, not fatal to the relay as a whole — a
// dead worker's socket failure is the supervisor's concern (it will
// observe the worker's process exit and respawn it), not the hub's.
func (h *Hub) Relay(f Frame) { h.relay(0, false, f) }

// RelayExcept broadcasts f to every registered worker except originID.
//
// The 20-byte wire header has no field for an originator id, and the
// originating worker's pubsub.Engine already delivered the publication
// to its local subscribers before ever forwarding it to the bus (see
// pubsub.ClusterLink.Publish) — excluding the originator here is what
// keeps delivery exactly-once per local subscriber without a wire
// format change. This is the dedup mechanism Master.relayLoop uses for
// TypePublish frames.
func (h *Hub) RelayExcept(originID uint64, f Frame) { h.relay(originID, true, f) }

func (h *Hub) relay(originID uint64, exclude bool, f Frame) {
	h.mu.RLock()
	targets := make(map[uint64]*Conn, len(h.workers))
	for id, c := range h.workers {
		targets[id] = c
	}
	h.mu.RUnlock()

	for id, c := range targets {
		if exclude && id == originID {
			continue
		}
		if err := c.Send(f); err != nil {
			h.log.Warn("relay send failed", "worker", id, "err", err)
		}
	}
}

// Broadcast sends f to every registered worker exactly once. It is
// Relay under a second name, used for master-initiated control frames
// (e.g. shutdown) that have no worker originator.
func (h *Hub) Broadcast(f Frame) { h.Relay(f) }
