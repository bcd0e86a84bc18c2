//go:build linux || darwin || freebsd || netbsd || openbsd

// File: supervisor/master_unix.go
// Worker process spawn/respawn on unix: each worker is a re-exec of the
// current binary (os/exec, not raw fork — the Go runtime cannot survive
// a bare fork) connected to the master over one end of a
// syscall.Socketpair, giving every worker its own pair of connected
// cluster-bus sockets.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package supervisor

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"

	"github.com/momentics/fio/clusterbus"
)

// spawnWorker creates a connected socket pair, re-execs the current
// binary with WorkerEnvVar=id so the child reaches RunWorkerRole, hands
// it one end of the pair as fd 3, and returns the master-side Conn plus
// the running *exec.Cmd (for Wait/Kill).
func spawnWorker(id uint64) (*clusterbus.Conn, *exec.Cmd, error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor: socketpair: %w", err)
	}
	masterFile := os.NewFile(uintptr(fds[0]), fmt.Sprintf("clusterbus-master-%d", id))
	childFile := os.NewFile(uintptr(fds[1]), fmt.Sprintf("clusterbus-worker-%d", id))
	defer childFile.Close()

	exe, err := os.Executable()
	if err != nil {
		masterFile.Close()
		return nil, nil, fmt.Errorf("supervisor: resolve executable: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", WorkerEnvVar, id))
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		masterFile.Close()
		return nil, nil, fmt.Errorf("supervisor: start worker %d: %w", id, err)
	}

	conn, err := net.FileConn(masterFile)
	masterFile.Close()
	if err != nil {
		cmd.Process.Kill()
		return nil, nil, fmt.Errorf("supervisor: wrap master socket: %w", err)
	}
	return clusterbus.NewConn(conn, clusterbus.DefaultMaxFrameSize), cmd, nil
}

// WorkerEnvVar is the environment variable a re-exec'd worker process
// checks to discover its role and id; see RunWorkerRole.
const WorkerEnvVar = "FIO_WORKER_ID"

// workerClusterConn opens the inherited fd 3 as this worker's cluster
// bus connection back to the master. Called from the worker process
// after re-exec, before entering its own reactor loop.
func workerClusterConn() (*clusterbus.Conn, error) {
	f := os.NewFile(3, "clusterbus-worker")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("supervisor: worker wrap inherited socket: %w", err)
	}
	return clusterbus.NewConn(conn, clusterbus.DefaultMaxFrameSize), nil
}

func sendSignal(cmd *exec.Cmd, sig os.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(sig)
}
