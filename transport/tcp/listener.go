// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp provides the TCP accept loop used by the reactor-hosted
// worker: it pins the accept goroutine to a CPU (when configured),
// performs the HTTP/1.1 request line + header parse via httpcodec, and
// hands each net.Conn with its parsed *httpcodec.Request to ConnHandler,
// which performs any WebSocket upgrade negotiation and reactor
// registration. Plain (non-upgrade) HTTP requests take the same path,
// so SSE and ordinary responses share the same accept path.

package tcp

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/momentics/fio/httpcodec"
)

// ListenerConfig holds configuration for the TCP listener.
type ListenerConfig struct {
	Addr       string // TCP address to bind (e.g., ":9001")
	WorkerCPUs []int  // List of CPUs for optional affinity pinning
	Limits     httpcodec.Limits

	// ConnHandler receives a successfully parsed request together with
	// the raw connection and its buffered reader (which may already
	// hold pipelined bytes past the request). It decides, based on
	// req.Upgrade(), whether to complete a WebSocket/SSE handshake or
	// serve a plain HTTP response.
	ConnHandler func(conn net.Conn, br *bufio.Reader, req *httpcodec.Request)
}

// StartTCPListener opens the TCP listening socket, applies affinity if requested,
// and runs the accept loop with HTTP parsing.
func StartTCPListener(cfg *ListenerConfig) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("tcp listen failed: %v", err)
	}
	defer ln.Close()
	fmt.Printf("TCP listening on %s\n", cfg.Addr)

	if len(cfg.WorkerCPUs) > 0 {
		setCPUAffinity(cfg.WorkerCPUs[0])
	}

	limits := cfg.Limits
	if limits == (httpcodec.Limits{}) {
		limits = httpcodec.DefaultLimits()
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			fmt.Fprintf(os.Stderr, "accept error: %v\n", err)
			continue
		}
		go handleConn(conn, limits, cfg.ConnHandler)
	}
}

// handleConn parses one HTTP request off conn and, on success, hands
// the connection to handler. A parse failure (malformed request,
// limits exceeded, or read timeout) closes the connection without a
// response.
func handleConn(conn net.Conn, limits httpcodec.Limits, handler func(net.Conn, *bufio.Reader, *httpcodec.Request)) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic in connection: %v\n", r)
		}
	}()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	br := bufio.NewReader(conn)

	req, err := httpcodec.ParseRequest(br, limits)
	if err != nil {
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})

	if handler == nil {
		conn.Close()
		return
	}
	handler(conn, br, req)
}
