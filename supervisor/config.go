// File: supervisor/config.go
// Package supervisor implements the master/worker process model: the
// master installs signal handlers, creates the cluster bus, spawns
// workers, watches for unclean exit and respawns with backoff, and
// coordinates orderly shutdown. Config values are loadable from YAML;
// CLI flag handling is left to the embedding binary.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package supervisor

import (
	"runtime"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Config controls the master's worker pool and restart policy.
type Config struct {
	// Workers is the worker process count. 0 means run the reactor
	// inline in the master with no child processes; negative means
	// auto-detect the CPU count.
	Workers int `yaml:"workers"`

	// ThreadsPerWorker is passed through to each worker's reactor
	// construction; the supervisor itself does not use it directly.
	ThreadsPerWorker int `yaml:"threads_per_worker"`

	// RespawnBackoff is the minimum delay before respawning a worker
	// that exited uncleanly. Clamped to at least 250ms.
	RespawnBackoff time.Duration `yaml:"respawn_backoff"`

	// ShutdownTimeout bounds how long the master's shutdown (run when
	// Start's context ends) waits for workers to exit
	// after the cluster-bus shutdown broadcast before escalating to
	// SIGTERM, and then SIGKILL.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Logger hclog.Logger `yaml:"-"`
}

// WithDefaults resolves Workers<0 to runtime.NumCPU() and fills in the
// documented minimums/defaults.
func (c Config) WithDefaults() Config {
	out := c
	if out.Workers < 0 {
		out.Workers = runtime.NumCPU()
	}
	if out.RespawnBackoff < 250*time.Millisecond {
		out.RespawnBackoff = 250 * time.Millisecond
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = 5 * time.Second
	}
	if out.Logger == nil {
		out.Logger = hclog.NewNullLogger()
	}
	return out
}
