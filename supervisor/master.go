// File: supervisor/master.go
// Master drives the worker pool lifecycle: signal handlers, cluster
// bus creation, worker spawn/respawn, and orderly shutdown via a
// cluster-bus broadcast followed by SIGTERM/SIGKILL escalation.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/momentics/fio/clusterbus"
)

// RunWorkerRole reports whether this process was re-exec'd as a worker
// (WorkerEnvVar set) and, if so, its worker id and cluster-bus Conn back
// to the master. The embedding binary's main() calls this first, before
// deciding whether to run Master.Start (master) or drive its own
// reactor against the returned Conn (worker).
func RunWorkerRole() (id uint64, conn *clusterbus.Conn, isWorker bool, err error) {
	v := os.Getenv(WorkerEnvVar)
	if v == "" {
		return 0, nil, false, nil
	}
	parsed, perr := strconv.ParseUint(v, 10, 64)
	if perr != nil {
		return 0, nil, false, fmt.Errorf("supervisor: bad %s: %w", WorkerEnvVar, perr)
	}
	c, err := workerClusterConn()
	if err != nil {
		return 0, nil, true, err
	}
	return parsed, c, true, nil
}

type workerProc struct {
	id     uint64
	cmd    *exec.Cmd
	conn   *clusterbus.Conn
	exited chan struct{} // closed once, by watch, after cmd.Wait returns
}

// Master runs the reactor-hosting worker pool and brokers the cluster
// bus between them.
type Master struct {
	cfg Config
	hub *clusterbus.Hub
	log hclog.Logger

	// Inline, when Workers == 0, is invoked directly in the master
	// process instead of spawning children: the master runs the
	// reactor itself.
	Inline func(ctx context.Context) error

	mu       sync.Mutex
	workers  map[uint64]*workerProc
	nextID   uint64
	stopping bool
}

// NewMaster constructs a master with cfg (defaults applied via
// Config.WithDefaults).
func NewMaster(cfg Config) *Master {
	cfg = cfg.WithDefaults()
	return &Master{
		cfg:     cfg,
		hub:     clusterbus.NewHub(cfg.Logger),
		log:     cfg.Logger.Named("supervisor"),
		workers: make(map[uint64]*workerProc),
	}
}

// Start installs signal handlers, spawns the configured worker count
// (or runs Inline if Workers == 0), and blocks until ctx is canceled or
// a stop signal arrives, at which point it performs orderly shutdown
// and returns.
func (m *Master) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 4)
	// interrupt -> orderly stop; pipe -> ignore; child reaping is
	// handled by exec.Cmd.Wait goroutines below rather than SIGCHLD,
	// since Go's runtime already reaps via wait4 internally.
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	registerIgnoredSignals(sigCh)
	defer signal.Stop(sigCh)

	if m.cfg.Workers == 0 {
		if m.Inline == nil {
			return nil
		}
		return m.Inline(ctx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < m.cfg.Workers; i++ {
		if err := m.spawnAndWatch(runCtx); err != nil {
			m.log.Error("initial worker spawn failed", "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case sig := <-sigCh:
			if isStopSignal(sig) {
				m.shutdown()
				return nil
			}
		}
	}
}

func (m *Master) spawnAndWatch(ctx context.Context) error {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.mu.Unlock()

	conn, cmd, err := spawnWorker(id)
	if err != nil {
		return err
	}

	wp := &workerProc{id: id, cmd: cmd, conn: conn, exited: make(chan struct{})}
	m.mu.Lock()
	m.workers[id] = wp
	m.mu.Unlock()
	m.hub.AddWorker(id, conn)

	go m.relayLoop(id, conn)
	go m.watch(ctx, wp)
	return nil
}

// relayLoop reads frames from worker id's bus connection and hands
// publish frames to the hub for broadcast.
func (m *Master) relayLoop(id uint64, conn *clusterbus.Conn) {
	for {
		f, err := conn.Recv()
		if err != nil {
			return
		}
		switch f.Type {
		case clusterbus.TypePublish:
			// Exclude the originating worker: its own pubsub.Engine
			// already delivered this publication locally before
			// forwarding it here (pubsub.ClusterLink.Publish), so
			// relaying it back would double-deliver.
			m.hub.RelayExcept(id, f)
		case clusterbus.TypeSubscribe, clusterbus.TypeUnsubscribe, clusterbus.TypeIdentify:
			// Bookkeeping frames are relayed to every worker as-is;
			// pubsub.ClusterLink.RunRecvLoop takes no local action on
			// them, so they do not reach any worker's pubsub.Engine.
			m.hub.Relay(f)
		case clusterbus.TypePing:
		case clusterbus.TypeShutdown:
		}
	}
}

// watch waits for a worker to exit and, unless the master is stopping,
// respawns it after RespawnBackoff.
func (m *Master) watch(ctx context.Context, wp *workerProc) {
	err := wp.cmd.Wait()
	close(wp.exited)

	m.mu.Lock()
	delete(m.workers, wp.id)
	stopping := m.stopping
	m.mu.Unlock()
	m.hub.RemoveWorker(wp.id)

	if stopping {
		return
	}
	if err == nil {
		// Clean exit (status 0) while the pool is still running is not
		// respawned; a worker that wants to retire does so by exiting
		// 0 after its own graceful drain.
		return
	}

	m.log.Warn("worker exited uncleanly, respawning", "worker", wp.id, "err", err)
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.cfg.RespawnBackoff):
	}
	if spawnErr := m.spawnAndWatch(ctx); spawnErr != nil {
		m.log.Error("worker respawn failed", "worker", wp.id, "err", spawnErr)
	}
}

// shutdown broadcasts a shutdown frame, waits for workers with a
// timeout, then escalates to SIGTERM and SIGKILL.
func (m *Master) shutdown() {
	m.mu.Lock()
	m.stopping = true
	procs := make([]*workerProc, 0, len(m.workers))
	for _, wp := range m.workers {
		procs = append(procs, wp)
	}
	m.mu.Unlock()

	m.hub.Broadcast(clusterbus.Frame{Type: clusterbus.TypeShutdown})

	done := make(chan struct{})
	go func() {
		for _, wp := range procs {
			<-wp.exited
		}
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(m.cfg.ShutdownTimeout):
	}

	for _, wp := range procs {
		sendSignal(wp.cmd, syscall.SIGTERM)
	}
	select {
	case <-done:
		return
	case <-time.After(m.cfg.ShutdownTimeout):
	}
	for _, wp := range procs {
		if wp.cmd.Process != nil {
			wp.cmd.Process.Kill()
		}
	}
	<-done
}

func isStopSignal(sig os.Signal) bool {
	return sig == os.Interrupt || sig == syscall.SIGTERM
}
