//go:build windows

// File: supervisor/master_windows.go
// Windows has no syscall.Socketpair; the worker transport falls back to
// a loopback TCP connection established by address rather than
// fd-inheritance, mirroring the split already used in this tree for
// platform-specific transports (e.g. transport/netconn_windows.go vs.
// transport/netconn_unix.go).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package supervisor

import (
	"fmt"
	"net"
	"os"
	"os/exec"

	"github.com/momentics/fio/clusterbus"
)

// WorkerEnvVar is the environment variable a re-exec'd worker process
// checks for its id; the loopback-dial address is passed separately in
// workerAddrEnvVar. See workerClusterConn.
const WorkerEnvVar = "FIO_WORKER_ID"

const workerAddrEnvVar = "FIO_WORKER_ADDR"

func spawnWorker(id uint64) (*clusterbus.Conn, *exec.Cmd, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor: listen for worker %d: %w", id, err)
	}
	defer ln.Close()

	exe, err := os.Executable()
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor: resolve executable: %w", err)
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%d", WorkerEnvVar, id),
		fmt.Sprintf("%s=%s", workerAddrEnvVar, ln.Addr().String()),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("supervisor: start worker %d: %w", id, err)
	}

	conn, err := ln.Accept()
	if err != nil {
		cmd.Process.Kill()
		return nil, nil, fmt.Errorf("supervisor: accept worker %d: %w", id, err)
	}
	return clusterbus.NewConn(conn, clusterbus.DefaultMaxFrameSize), cmd, nil
}

func workerClusterConn() (*clusterbus.Conn, error) {
	addr := os.Getenv(workerAddrEnvVar)
	if addr == "" {
		return nil, fmt.Errorf("supervisor: %s not set", workerAddrEnvVar)
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("supervisor: dial master: %w", err)
	}
	return clusterbus.NewConn(conn, clusterbus.DefaultMaxFrameSize), nil
}

func sendSignal(cmd *exec.Cmd, _ os.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
