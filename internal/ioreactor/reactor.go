// File: internal/ioreactor/reactor.go
// Package ioreactor implements the single-threaded cooperative event
// loop: one thread drives the poller; additional worker threads drain
// the deferred FIFO and per-connection callbacks after acquiring each
// connection's trylock.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ioreactor

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/momentics/fio/api"
	"github.com/momentics/fio/internal/connid"
	"github.com/momentics/fio/internal/deferfifo"
	"github.com/momentics/fio/internal/timerwheel"
	"github.com/momentics/fio/internal/wqueue"
)

// connLifecycle mirrors the one-way state machine: Open -> Shutting-down -> Closed.
type connLifecycle int32

const (
	stateOpen connLifecycle = iota
	stateShuttingDown
	stateClosed
)

// connState is the reactor's private bookkeeping for one registered fd.
type connState struct {
	fd    int
	uuid  connid.UUID
	conn  api.NetConn
	queue *wqueue.Queue

	lock  sync.Mutex // the connection's trylock (§5)
	state int32      // connLifecycle, accessed atomically

	timeout      time.Duration
	lastActivity atomic.Int64 // unix nanos
}

// Metrics receives reactor-level instrumentation. A nil Metrics in
// Config disables instrumentation entirely; calls are guarded, not
// stubbed out with a no-op implementation.
type Metrics interface {
	ObserveReactorTick(d time.Duration)
	SetWriteQueueDepth(n int)
}

// Config controls reactor-wide tunables.
type Config struct {
	// CloseGraceTimeout bounds how long Close() drains the write queue
	// after EOF/error before invalidating the uuid.
	CloseGraceTimeout time.Duration
	Logger            hclog.Logger
	Metrics           Metrics
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.CloseGraceTimeout <= 0 {
		out.CloseGraceTimeout = time.Second
	}
	if out.Logger == nil {
		out.Logger = hclog.NewNullLogger()
	}
	return out
}

// Reactor is the process-wide (per-worker) event loop singleton.
type Reactor struct {
	cfg    Config
	poller Poller
	table  *connid.Table
	timers *timerwheel.Set
	defers *deferfifo.FIFO
	log    hclog.Logger

	mu    sync.RWMutex
	conns map[int]*connState

	wakeR, wakeW *os.File

	running atomic.Bool
}

// New constructs a reactor bound to table, using the platform poller.
func New(table *connid.Table, cfg Config) (*Reactor, error) {
	cfg = cfg.withDefaults()
	p, err := NewPoller()
	if err != nil {
		return nil, err
	}
	r, w, err := os.Pipe()
	if err != nil {
		p.Close()
		return nil, err
	}
	reactor := &Reactor{
		cfg:    cfg,
		poller: p,
		table:  table,
		timers: timerwheel.New(),
		defers: deferfifo.New(),
		log:    cfg.Logger.Named("reactor"),
		conns:  make(map[int]*connState),
		wakeR:  r,
		wakeW:  w,
	}
	if err := reactor.poller.Monitor(int(r.Fd()), Interest{Read: true}); err != nil {
		return nil, err
	}
	return reactor, nil
}

// Register allocates a uuid for conn and arms it for read readiness.
func (r *Reactor) Register(conn api.NetConn, timeout time.Duration) (connid.UUID, error) {
	fd := int(conn.RawFD())
	u := r.table.Open(fd)
	cs := &connState{
		fd:      fd,
		uuid:    u,
		conn:    conn,
		queue:   wqueue.New(),
		timeout: timeout,
	}
	cs.lastActivity.Store(time.Now().UnixNano())

	r.mu.Lock()
	r.conns[fd] = cs
	r.mu.Unlock()

	if err := r.poller.Monitor(fd, Interest{Read: true}); err != nil {
		r.mu.Lock()
		delete(r.conns, fd)
		r.mu.Unlock()
		r.table.Close(u)
		return 0, err
	}
	return u, nil
}

// Attach installs the protocol vtable for u.
func (r *Reactor) Attach(u connid.UUID, p api.Protocol) error {
	return r.table.Attach(u, p)
}

// MarkPing records that real ping/pong traffic was observed for u
// within the current timeout window, so checkTimeouts renews its
// activity deadline instead of invoking OnPing. Safe from any goroutine.
func (r *Reactor) MarkPing(u connid.UUID) {
	r.table.MarkPing(u)
}

// Defer schedules fn to run on the reactor thread, in enqueue order,
// safe to call from any goroutine. Wakes the poller if it's blocked.
func (r *Reactor) Defer(fn func()) {
	r.defers.Push(fn)
	r.wake()
}

func (r *Reactor) wake() {
	_, _ = r.wakeW.Write([]byte{0})
}

// RunEvery exposes the timer set; callbacks run via the defer FIFO so
// they never execute concurrently with other per-connection callbacks
// on a different thread than the reactor intends.
func (r *Reactor) RunEvery(interval time.Duration, repetitions int, fn func(), onFinish func()) timerwheel.Handle {
	wrap := func(any) { fn() }
	var wrapFinish func(any)
	if onFinish != nil {
		wrapFinish = func(any) { onFinish() }
	}
	h := r.timers.RunEvery(interval, repetitions, wrap, nil, wrapFinish)
	r.wake()
	return h
}

// RunAfter schedules fn to run once after delay.
func (r *Reactor) RunAfter(delay time.Duration, fn func()) timerwheel.Handle {
	h := r.timers.RunAfter(delay, func(any) { fn() }, nil)
	r.wake()
	return h
}

// EnqueueMemory appends a memory chunk to u's write queue; safe from any goroutine.
func (r *Reactor) EnqueueMemory(u connid.UUID, buf []byte, dealloc func([]byte)) error {
	cs, err := r.stateFor(u)
	if err != nil {
		return err
	}
	cs.queue.EnqueueMemory(buf, dealloc)
	r.armWrite(cs)
	return nil
}

// EnqueueFile appends an fd-backed chunk to u's write queue.
func (r *Reactor) EnqueueFile(u connid.UUID, f *os.File, offset, length int64, closeOnDone bool) error {
	cs, err := r.stateFor(u)
	if err != nil {
		return err
	}
	cs.queue.EnqueueFile(f, offset, length, closeOnDone)
	r.armWrite(cs)
	return nil
}

func (r *Reactor) armWrite(cs *connState) {
	_ = r.poller.Monitor(cs.fd, Interest{Read: true, Write: true})
}

func (r *Reactor) stateFor(u connid.UUID) (*connState, error) {
	if _, err := r.table.FdOf(u); err != nil {
		return nil, err
	}
	r.mu.RLock()
	cs, ok := r.conns[u.Fd()]
	r.mu.RUnlock()
	if !ok {
		return nil, api.ErrClosed
	}
	return cs, nil
}

// Close begins orderly shutdown of u: invoke OnShutdown, drain the write
// queue for a bounded grace period, then invalidate the uuid and invoke
// OnClose. Safe to call from any goroutine; actual teardown runs on the
// reactor thread via Defer.
func (r *Reactor) Close(u connid.UUID) {
	cs, err := r.stateFor(u)
	if err != nil {
		return
	}
	if !atomic.CompareAndSwapInt32(&cs.state, int32(stateOpen), int32(stateShuttingDown)) {
		return
	}
	r.Defer(func() { r.beginShutdown(cs) })
}

func (r *Reactor) beginShutdown(cs *connState) {
	if proto, err := r.table.Protocol(cs.uuid); err == nil && proto != nil {
		proto.OnShutdown(api.ConnUUID(cs.uuid))
	}
	deadline := time.Now().Add(r.cfg.CloseGraceTimeout)
	for time.Now().Before(deadline) {
		res := cs.queue.Flush(cs.conn)
		if res == wqueue.Drained || res == wqueue.Error || res == wqueue.PeerClosed {
			break
		}
		if res == wqueue.WouldBlock {
			time.Sleep(time.Millisecond)
			continue
		}
	}
	r.finishClose(cs)
}

func (r *Reactor) finishClose(cs *connState) {
	atomic.StoreInt32(&cs.state, int32(stateClosed))
	cs.queue.Close()
	_ = r.poller.Forget(cs.fd)
	r.mu.Lock()
	delete(r.conns, cs.fd)
	r.mu.Unlock()
	r.table.Close(cs.uuid)
	cs.conn.Close()
}

// Run drives the poller loop until ctx is canceled. Call from exactly
// one goroutine per reactor (the "reactor thread"). Additional worker
// goroutines should call RunWorker to drain deferred tasks concurrently.
func (r *Reactor) Run(ctx context.Context) error {
	r.running.Store(true)
	defer r.running.Store(false)

	var events []Event
	wakeBuf := make([]byte, 64)

	for {
		select {
		case <-ctx.Done():
			r.shutdownAll()
			return nil
		default:
		}

		tickStart := time.Now()

		r.timers.RunExpired(time.Now(), func(fn timerwheel.Func, arg any) {
			r.defers.Push(func() { fn(arg) })
		})

		timeoutMs := r.nextPollTimeout()
		events = events[:0]
		var err error
		events, err = r.poller.Wait(timeoutMs, events)
		if err != nil {
			r.log.Error("poll wait failed", "err", err)
			continue
		}

		for _, ev := range events {
			if ev.Fd == int(r.wakeR.Fd()) {
				_, _ = r.wakeR.Read(wakeBuf)
				// Re-arm: the poller's one-shot contract applies to
				// the wake pipe too.
				_ = r.poller.Monitor(ev.Fd, Interest{Read: true})
				continue
			}
			r.dispatch(ev)
		}

		r.defers.DrainOnce()
		r.checkTimeouts()

		if r.cfg.Metrics != nil {
			r.cfg.Metrics.ObserveReactorTick(time.Since(tickStart))
		}
	}
}

func (r *Reactor) nextPollTimeout() int {
	deadline, ok := r.timers.NextDeadline()
	if !ok {
		return 250 // wake periodically to evaluate per-connection timeouts
	}
	d := time.Until(deadline)
	if d <= 0 {
		return 0
	}
	ms := int(d / time.Millisecond)
	if ms > 250 {
		return 250
	}
	return ms
}

func (r *Reactor) dispatch(ev Event) {
	r.mu.RLock()
	cs, ok := r.conns[ev.Fd]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if atomic.LoadInt32(&cs.state) == int32(stateClosed) {
		return
	}

	if ev.Errored {
		r.scheduleErrorClose(cs)
		return
	}

	cs.lastActivity.Store(time.Now().UnixNano())

	if ev.Readable {
		r.dispatchReadable(cs)
	}
	if ev.Writable {
		r.dispatchWritable(cs)
	}

	// Re-arm for the next edge per the one-shot contract.
	wantWrite := !cs.queue.Empty()
	_ = r.poller.Monitor(cs.fd, Interest{Read: true, Write: wantWrite})
}

func (r *Reactor) dispatchReadable(cs *connState) {
	if !cs.lock.TryLock() {
		// Another thread holds it; re-deliver later via defer rather
		// than blocking the reactor thread.
		r.Defer(func() { r.dispatchReadable(cs) })
		return
	}
	defer cs.lock.Unlock()

	proto, err := r.table.Protocol(cs.uuid)
	if err != nil || proto == nil {
		return
	}
	proto.OnData(api.ConnUUID(cs.uuid))
}

func (r *Reactor) dispatchWritable(cs *connState) {
	if !cs.lock.TryLock() {
		r.Defer(func() { r.dispatchWritable(cs) })
		return
	}
	defer cs.lock.Unlock()

	res := cs.queue.Flush(cs.conn)
	switch res {
	case wqueue.Drained:
		if proto, err := r.table.Protocol(cs.uuid); err == nil && proto != nil {
			proto.OnReady(api.ConnUUID(cs.uuid))
		}
	case wqueue.PeerClosed, wqueue.Error:
		r.scheduleErrorClose(cs)
	}
}

func (r *Reactor) scheduleErrorClose(cs *connState) {
	if !atomic.CompareAndSwapInt32(&cs.state, int32(stateOpen), int32(stateShuttingDown)) {
		return
	}
	r.Defer(func() { r.beginShutdown(cs) })
}

func (r *Reactor) checkTimeouts() {
	now := time.Now()
	r.mu.RLock()
	snapshot := make([]*connState, 0, len(r.conns))
	for _, cs := range r.conns {
		snapshot = append(snapshot, cs)
	}
	r.mu.RUnlock()

	if r.cfg.Metrics != nil {
		depth := 0
		for _, cs := range snapshot {
			depth += cs.queue.Len()
		}
		r.cfg.Metrics.SetWriteQueueDepth(depth)
	}

	for _, cs := range snapshot {
		if cs.timeout <= 0 {
			continue
		}
		if atomic.LoadInt32(&cs.state) != int32(stateOpen) {
			continue
		}
		last := time.Unix(0, cs.lastActivity.Load())
		if now.Sub(last) < cs.timeout {
			continue
		}
		if r.table.TakePingSeen(cs.uuid) {
			cs.lastActivity.Store(now.UnixNano())
			continue
		}
		if proto, err := r.table.Protocol(cs.uuid); err == nil && proto != nil {
			proto.OnPing(api.ConnUUID(cs.uuid))
		} else {
			r.scheduleErrorClose(cs)
		}
	}
}

func (r *Reactor) shutdownAll() {
	r.mu.RLock()
	snapshot := make([]*connState, 0, len(r.conns))
	for _, cs := range r.conns {
		snapshot = append(snapshot, cs)
	}
	r.mu.RUnlock()
	for _, cs := range snapshot {
		if atomic.CompareAndSwapInt32(&cs.state, int32(stateOpen), int32(stateShuttingDown)) {
			r.beginShutdown(cs)
		}
	}
	r.timers.CancelAll()
	r.poller.Close()
	r.wakeR.Close()
	r.wakeW.Close()
}

// RunWorker drains the deferred FIFO continuously until ctx is done;
// intended for the N-1 additional worker threads alongside the one
// reactor thread. It never drives the poller itself.
func (r *Reactor) RunWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if n := r.defers.DrainOnce(); n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}
