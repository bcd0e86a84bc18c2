// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Command fio-server is the reference embedding binary: it wires the
// reactor, cluster bus, pub/sub engine, and HTTP/WebSocket/SSE codecs
// together behind the master/worker supervisor. Run with -config
// pointing at a YAML file, or rely on the defaults for a quick
// single-process smoke test (-workers 0 is the default, so a bare
// `fio-server` run needs no child processes at all).
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/common/expfmt"
	"gopkg.in/yaml.v3"

	"github.com/momentics/fio/adapters"
	"github.com/momentics/fio/api"
	"github.com/momentics/fio/clusterbus"
	"github.com/momentics/fio/control"
	"github.com/momentics/fio/httpcodec"
	"github.com/momentics/fio/internal/connid"
	"github.com/momentics/fio/internal/ioreactor"
	"github.com/momentics/fio/pool"
	"github.com/momentics/fio/protocol"
	"github.com/momentics/fio/pubsub"
	"github.com/momentics/fio/supervisor"
	"github.com/momentics/fio/transport"
	"github.com/momentics/fio/transport/tcp"
	"github.com/momentics/fio/wsframe"
)

type fileConfig struct {
	Addr              string `yaml:"addr"`
	Workers           int    `yaml:"workers"`
	ThreadsPerWorker  int    `yaml:"threads_per_worker"`
	RespawnBackoffMS  int    `yaml:"respawn_backoff_ms"`
	ShutdownTimeoutMS int    `yaml:"shutdown_timeout_ms"`
	BroadcastChannel  string `yaml:"broadcast_channel"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Addr:             ":9002",
		Workers:          0,
		BroadcastChannel: "broadcast",
	}
}

func loadConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	workersFlag := flag.Int("workers", -1, "override the config file's worker count (-1 = use config)")
	flag.Parse()

	fc, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fio-server: %v\n", err)
		os.Exit(1)
	}
	if *workersFlag != -1 {
		fc.Workers = *workersFlag
	}

	log := hclog.New(&hclog.LoggerOptions{Name: "fio-server", Level: hclog.Info})

	workerID, busConn, isWorker, err := supervisor.RunWorkerRole()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fio-server: worker role: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if isWorker {
		if err := runWorker(ctx, workerID, busConn, fc, log.Named("worker")); err != nil {
			fmt.Fprintf(os.Stderr, "fio-server: worker %d: %v\n", workerID, err)
			os.Exit(1)
		}
		return
	}

	scfg := supervisor.Config{
		Workers:          fc.Workers,
		ThreadsPerWorker: fc.ThreadsPerWorker,
		Logger:           log,
	}
	if fc.RespawnBackoffMS > 0 {
		scfg.RespawnBackoff = time.Duration(fc.RespawnBackoffMS) * time.Millisecond
	}
	if fc.ShutdownTimeoutMS > 0 {
		scfg.ShutdownTimeout = time.Duration(fc.ShutdownTimeoutMS) * time.Millisecond
	}

	master := supervisor.NewMaster(scfg)
	master.Inline = func(ctx context.Context) error {
		return runWorker(ctx, 0, nil, fc, log.Named("worker"))
	}

	if err := master.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fio-server: master: %v\n", err)
		os.Exit(1)
	}
}

// originatorID picks the pub/sub engine's dedup identity: the
// supervisor-assigned worker id when running under the master, or a
// random process instance id when running standalone.
func originatorID(workerID uint64) uint64 {
	if workerID != 0 {
		return workerID
	}
	u := uuid.New()
	return binary.BigEndian.Uint64(u[:8])
}

// syncDeliver runs a pub/sub delivery callback inline. The only
// multi-threaded caller is the cluster link's receive loop, and
// EnqueueMemory/Close are documented as callable from any goroutine,
// so no extra hop through reactor.Defer is needed here.
func syncDeliver(fn func()) { fn() }

func runWorker(ctx context.Context, workerID uint64, busConn *clusterbus.Conn, fc fileConfig, log hclog.Logger) error {
	table := connid.NewTable(connid.MaxFDHint())
	metrics := control.NewMetricsRegistry()
	reactor, err := ioreactor.New(table, ioreactor.Config{Logger: log, Metrics: metrics})
	if err != nil {
		return fmt.Errorf("reactor init: %w", err)
	}

	engine := pubsub.New(originatorID(workerID))
	engine.SetMetrics(metrics)

	var link *pubsub.ClusterLink
	if busConn != nil {
		link = pubsub.NewClusterLink(engine, busConn, syncDeliver, log)
		go func() {
			if rerr := link.RunRecvLoop(); rerr != nil {
				log.Warn("cluster recv loop ended", "err", rerr)
			}
		}()
	}

	// Control plane: the adapter shares the reactor's metrics registry
	// and carries the worker's live config (seeded from the YAML file,
	// mutable through the /config route) plus its debug probes.
	ctrl := adapters.NewControlAdapter(metrics)
	ctrl.SetConfig(map[string]any{
		"addr":               fc.Addr,
		"workers":            fc.Workers,
		"threads_per_worker": fc.ThreadsPerWorker,
		"broadcast_channel":  fc.BroadcastChannel,
	})
	ctrl.RegisterDebugProbe("worker.id", func() any { return workerID })
	ctrl.RegisterDebugProbe("pubsub.subscriptions", func() any { return engine.SubscriptionCount() })
	ctrl.OnReload(func() { log.Info("config reloaded", "config", ctrl.GetConfig()) })
	control.RegisterReloadHook(func() { metrics.Set("config.last_reload", time.Now().Unix()) })

	// Shared connection read-buffer pool: every accepted connection's
	// NetConn borrows its OnData scratch buffer from here instead of
	// allocating one per socket.
	bufPool := pool.NewSimpleBytePool(256, 64*1024)

	srv := &wsServer{engine: engine, link: link, log: log, broadcastChannel: fc.BroadcastChannel, pool: bufPool, metrics: metrics, ctrl: ctrl}

	ln := &tcp.ListenerConfig{
		Addr:   fc.Addr,
		Limits: httpcodec.DefaultLimits(),
		ConnHandler: func(conn net.Conn, br *bufio.Reader, req *httpcodec.Request) {
			srv.handle(reactor, conn, br, req)
		},
	}

	errCh := make(chan error, 1)
	go func() { errCh <- tcp.StartTCPListener(ln) }()

	log.Info("listening", "addr", fc.Addr, "worker", workerID)

	// One reactor thread polls; the remaining ThreadsPerWorker-1
	// threads drain the deferred FIFO and redeferred per-connection
	// callbacks.
	for i := 1; i < fc.ThreadsPerWorker; i++ {
		go reactor.RunWorker(ctx)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- reactor.Run(ctx) }()

	select {
	case err := <-errCh:
		return err
	case err := <-runErr:
		return err
	}
}

// wsServer dispatches accepted HTTP requests to a WebSocket upgrade, an
// SSE stream subscribed to broadcastChannel, or a plain HTTP response.
type wsServer struct {
	engine           *pubsub.Engine
	link             *pubsub.ClusterLink
	log              hclog.Logger
	broadcastChannel string
	pool             pool.BytePool
	metrics          *control.MetricsRegistry
	ctrl             api.Control
}

// handle dispatches one parsed request. br is retained for callers that
// need to keep reading pipelined bytes past the request line (e.g. a
// future keep-alive loop for serveHTTP); the upgrade paths below don't
// need it since the connection becomes either reactor- or SSE-owned.
func (s *wsServer) handle(reactor *ioreactor.Reactor, conn net.Conn, br *bufio.Reader, req *httpcodec.Request) {
	kind, ok := req.Upgrade()
	if !ok {
		switch req.Path {
		case "/metrics":
			s.serveMetrics(conn)
		case "/status":
			s.serveStatus(conn)
		case "/config":
			s.serveConfig(conn, req)
		case "/debug":
			s.serveDebug(conn)
		default:
			s.serveHTTP(conn, req)
		}
		return
	}
	switch kind {
	case httpcodec.UpgradeWebSocket:
		s.serveWebSocket(reactor, conn, req)
	case httpcodec.UpgradeSSE:
		s.serveSSE(conn, req)
	default:
		httpcodec.RejectUpgrade(conn, 400, "Bad Request")
		conn.Close()
	}
}

func (s *wsServer) serveHTTP(conn net.Conn, req *httpcodec.Request) {
	defer conn.Close()
	resp := httpcodec.NewResponse()
	resp.Status = 200
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.KeepAlive = false
	httpcodec.WriteFixed(conn, resp, []byte("fio-server\n"))
}

// serveMetrics renders the Prometheus text exposition format for the
// reactor tick latency, write-queue depth, and pub/sub fan-out metrics,
// plus any ad hoc metric reported through MetricsRegistry.Set.
func (s *wsServer) serveMetrics(conn net.Conn) {
	defer conn.Close()
	var buf bytes.Buffer
	if err := s.metrics.WriteText(&buf); err != nil {
		httpcodec.RejectUpgrade(conn, 500, "Internal Server Error")
		return
	}
	resp := httpcodec.NewResponse()
	resp.Status = 200
	resp.Header.Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	resp.KeepAlive = false
	httpcodec.WriteFixed(conn, resp, buf.Bytes())
}

// serveStatus dumps the control plane's merged view — config, ad hoc
// metrics, and debug probes — as a simple key=value listing,
// independent of the Prometheus exposition format above.
func (s *wsServer) serveStatus(conn net.Conn) {
	defer conn.Close()
	writeKV(conn, s.ctrl.Stats())
}

// serveConfig returns the live config; a POST with "key=value" lines
// in the body merges updates first, firing the registered reload hooks.
func (s *wsServer) serveConfig(conn net.Conn, req *httpcodec.Request) {
	defer conn.Close()
	if req.Method == "POST" && len(req.Body) > 0 {
		updates := make(map[string]any)
		for _, line := range strings.Split(string(req.Body), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			updates[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		if len(updates) > 0 {
			s.ctrl.SetConfig(updates)
		}
	}
	writeKV(conn, s.ctrl.GetConfig())
}

// serveDebug samples every registered debug probe.
func (s *wsServer) serveDebug(conn net.Conn) {
	defer conn.Close()
	writeKV(conn, s.ctrl.GetDebug().DumpState())
}

func writeKV(conn net.Conn, kv map[string]any) {
	var buf bytes.Buffer
	for k, v := range kv {
		fmt.Fprintf(&buf, "%s=%v\n", k, v)
	}
	resp := httpcodec.NewResponse()
	resp.Status = 200
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.KeepAlive = false
	httpcodec.WriteFixed(conn, resp, buf.Bytes())
}

// broadcastChan reads the SSE broadcast channel from the live config,
// so a /config update takes effect for subsequently opened streams.
func (s *wsServer) broadcastChan() string {
	if v, ok := s.ctrl.GetConfig()["broadcast_channel"].(string); ok && v != "" {
		return v
	}
	return s.broadcastChannel
}

func (s *wsServer) serveSSE(conn net.Conn, req *httpcodec.Request) {
	defer conn.Close()
	resp := httpcodec.NewResponse()
	sw, err := httpcodec.WriteSSEHead(conn, resp)
	if err != nil {
		return
	}
	defer sw.Close()

	h := s.engine.Subscribe(pubsub.SubscribeOpts{
		Channel: s.broadcastChan(),
		Cb: func(msg pubsub.Message) {
			sw.WriteEvent(httpcodec.Event{Name: msg.Channel, Data: string(msg.Payload)})
		},
	})
	defer s.engine.Unsubscribe(h)

	// Block until the peer disconnects; SSE is a one-way stream so the
	// only signal we get is a failed/EOF read.
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func (s *wsServer) serveWebSocket(reactor *ioreactor.Reactor, conn net.Conn, req *httpcodec.Request) {
	clientKey, err := httpcodec.ValidateWebSocketUpgrade(req)
	if err != nil {
		httpcodec.RejectUpgrade(conn, 400, "Bad Request")
		conn.Close()
		return
	}
	if err := httpcodec.WriteWebSocketAccept(conn, clientKey); err != nil {
		conn.Close()
		return
	}

	nc, err := transport.NewNetConn(conn, s.pool)
	if err != nil {
		conn.Close()
		return
	}

	u, err := reactor.Register(nc, 0)
	if err != nil {
		conn.Close()
		return
	}

	h := &wsCommandHandler{srv: s, subs: make(map[string]pubsub.Handle)}
	wsproto := protocol.NewWSProtocol(reactor, nc, u, 16<<20, false, h)
	h.wsproto = wsproto

	if err := reactor.Attach(u, wsproto); err != nil {
		reactor.Close(u)
		return
	}
}

// wsCommandHandler implements a minimal line-oriented control protocol
// over WebSocket text frames so the binary is exercisable without a
// bespoke client: "SUB <channel>", "UNSUB <channel>", and
// "PUB <channel> <payload>".
type wsCommandHandler struct {
	srv     *wsServer
	wsproto *protocol.WSProtocol
	subs    map[string]pubsub.Handle
}

func (h *wsCommandHandler) OnMessage(_ wsframe.Opcode, payload []byte) {
	fields := strings.SplitN(strings.TrimSpace(string(payload)), " ", 3)
	if len(fields) == 0 {
		return
	}
	switch strings.ToUpper(fields[0]) {
	case "SUB":
		if len(fields) < 2 {
			return
		}
		channel := fields[1]
		if _, already := h.subs[channel]; already {
			return
		}
		h.subs[channel] = h.srv.engine.Subscribe(pubsub.SubscribeOpts{
			Channel: channel,
			Cb: func(msg pubsub.Message) {
				// A publication may carry a pre-encoded WebSocket
				// frame in Hint so every subscriber avoids
				// re-framing the same payload.
				if raw, ok := msg.Hint.([]byte); ok {
					h.wsproto.SendPreEncoded(raw)
					return
				}
				h.wsproto.SendText([]byte(msg.Channel + " " + string(msg.Payload)))
			},
		})
	case "UNSUB":
		if len(fields) < 2 {
			return
		}
		if handle, ok := h.subs[fields[1]]; ok {
			h.srv.engine.Unsubscribe(handle)
			delete(h.subs, fields[1])
		}
	case "PUB":
		if len(fields) < 3 {
			return
		}
		payload := []byte(fields[2])
		opts := pubsub.PublishOpts{Channel: fields[1], Payload: payload}
		if framed, ferr := wsframe.Write(&wsframe.Frame{Fin: true, Opcode: wsframe.OpText, Payload: []byte(fields[1] + " " + fields[2])}); ferr == nil {
			opts.Hint = framed
		}
		if h.srv.link != nil {
			h.srv.link.Publish(opts)
		} else {
			h.srv.engine.Publish(opts, syncDeliver)
		}
	}
}
