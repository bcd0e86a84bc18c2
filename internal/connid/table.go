// File: internal/connid/table.go
// Package connid implements the fd<->UUID table: an arena of connection
// slots indexed by file descriptor, each guarded by a generation counter
// so that a callback captured under a stale UUID can never observe the
// fd's new occupant.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package connid

import (
	"sync"

	"github.com/momentics/fio/api"
)

// UUID is an opaque connection identifier composed of an fd index and a
// generation counter. It is produced only by Table.Open.
type UUID uint64

const genShift = 32

// Fd returns the fd-slot index this uuid was allocated against, without
// validating the generation.
func (u UUID) Fd() int { return int(uint32(u)) }

func (u UUID) generation() uint32 { return uint32(u >> genShift) }

func makeUUID(fd int, gen uint32) UUID {
	return UUID(uint64(gen)<<genShift | uint64(uint32(fd)))
}

// OnCloseFunc is a cleanup hook registered against a uuid, run once when
// the slot transitions to closed, before the generation is advanced.
type OnCloseFunc func()

type slot struct {
	mu         sync.Mutex
	generation uint32
	protocol   api.Protocol
	open       bool
	onClose    []OnCloseFunc
	pingSeen   bool
}

// Table is an array of connection slots indexed by fd, sized at startup
// from the OS file-descriptor limit and grown on demand if a larger fd
// is opened.
type Table struct {
	mu    sync.RWMutex
	slots []*slot
}

// NewTable allocates a table sized for maxFD slots (exclusive upper bound
// on fd values the caller will ever hand to Open).
func NewTable(maxFD int) *Table {
	if maxFD <= 0 {
		maxFD = 1024
	}
	return &Table{slots: make([]*slot, maxFD)}
}

func (t *Table) slotFor(fd int) *slot {
	t.mu.RLock()
	if fd < len(t.slots) && t.slots[fd] != nil {
		s := t.slots[fd]
		t.mu.RUnlock()
		return s
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if fd >= len(t.slots) {
		grown := make([]*slot, fd+1)
		copy(grown, t.slots)
		t.slots = grown
	}
	if t.slots[fd] == nil {
		t.slots[fd] = &slot{}
	}
	return t.slots[fd]
}

// Open allocates a new UUID for fd, incrementing its generation. This is
// called once per accept/connect.
func (t *Table) Open(fd int) UUID {
	s := t.slotFor(fd)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.open = true
	s.protocol = nil
	s.onClose = nil
	s.pingSeen = false
	return makeUUID(fd, s.generation)
}

// FdOf validates u's generation against the current occupant of its slot
// and returns the fd, or api.ErrBadUUID / api.ErrClosed.
func (t *Table) FdOf(u UUID) (int, error) {
	fd := u.Fd()
	t.mu.RLock()
	if fd >= len(t.slots) || t.slots[fd] == nil {
		t.mu.RUnlock()
		return 0, api.ErrBadUUID
	}
	s := t.slots[fd]
	t.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != u.generation() {
		return 0, api.ErrBadUUID
	}
	if !s.open {
		return 0, api.ErrClosed
	}
	return fd, nil
}

// Attach installs protocol as the callback vtable for u, invoking
// on_close on any previous protocol first. Exactly one protocol is
// attached to a uuid at a time.
func (t *Table) Attach(u UUID, p api.Protocol) error {
	fd, err := t.FdOf(u)
	if err != nil {
		return err
	}
	s := t.slots[fd]
	s.mu.Lock()
	prev := s.protocol
	s.protocol = p
	s.mu.Unlock()
	if prev != nil {
		prev.OnClose(api.ConnUUID(u))
	}
	return nil
}

// Protocol returns the protocol currently attached to u, or api.ErrNotAttached.
func (t *Table) Protocol(u UUID) (api.Protocol, error) {
	fd, err := t.FdOf(u)
	if err != nil {
		return nil, err
	}
	s := t.slots[fd]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.protocol == nil {
		return nil, api.ErrNotAttached
	}
	return s.protocol, nil
}

// OnClose registers fn to run when u's slot is closed. Safe to call from
// any thread; it is the mechanism by which connection-scoped resources
// (write queues, subscriptions) are torn down.
func (t *Table) OnClose(u UUID, fn OnCloseFunc) error {
	fd, err := t.FdOf(u)
	if err != nil {
		return err
	}
	s := t.slots[fd]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, fn)
	return nil
}

// MarkPing records that a ping/keepalive byte was observed for u within
// the current timeout window; TakePingSeen reads and clears it for the
// next window.
func (t *Table) MarkPing(u UUID) {
	fd := u.Fd()
	t.mu.RLock()
	if fd >= len(t.slots) || t.slots[fd] == nil {
		t.mu.RUnlock()
		return
	}
	s := t.slots[fd]
	t.mu.RUnlock()
	s.mu.Lock()
	s.pingSeen = true
	s.mu.Unlock()
}

// TakePingSeen returns whether a ping was observed since the last call,
// clearing the flag.
func (t *Table) TakePingSeen(u UUID) bool {
	fd := u.Fd()
	t.mu.RLock()
	if fd >= len(t.slots) || t.slots[fd] == nil {
		t.mu.RUnlock()
		return false
	}
	s := t.slots[fd]
	t.mu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := s.pingSeen
	s.pingSeen = false
	return seen
}

// Close marks u's slot closed, runs on_close on the attached protocol and
// all registered cleanups, and only then advances the generation so the
// fd may be safely reused by a subsequent Open. It is a no-op if u is
// already stale or closed.
func (t *Table) Close(u UUID) error {
	fd, err := t.FdOf(u)
	if err != nil {
		return err
	}
	s := t.slots[fd]

	s.mu.Lock()
	if !s.open || s.generation != u.generation() {
		s.mu.Unlock()
		return api.ErrClosed
	}
	proto := s.protocol
	hooks := s.onClose
	s.open = false
	s.mu.Unlock()

	if proto != nil {
		proto.OnClose(api.ConnUUID(u))
	}
	for _, h := range hooks {
		h()
	}

	s.mu.Lock()
	s.generation++
	s.protocol = nil
	s.onClose = nil
	s.mu.Unlock()
	return nil
}

// IsOpen reports whether u is currently valid and open.
func (t *Table) IsOpen(u UUID) bool {
	_, err := t.FdOf(u)
	return err == nil
}
