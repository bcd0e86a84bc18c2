// File: adapters/control_adapter.go
// Package adapters
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ControlAdapter assembles the control package's primitives behind
// api.Control. It shares the worker's MetricsRegistry rather than
// owning a private one, so Stats() reports the same reactor tick /
// write-queue / pub-sub counters the /metrics route exposes.

package adapters

import (
	"github.com/momentics/fio/api"
	"github.com/momentics/fio/control"
)

// ControlAdapter bridges api.Control to a shared config store, metrics
// registry, and debug probe set.
type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
}

// NewControlAdapter wires the control plane around an existing metrics
// registry — the one the reactor and pub/sub engine already report
// into. Platform probes are registered up front; the embedding binary
// adds its own domain probes via RegisterDebugProbe.
func NewControlAdapter(metrics *control.MetricsRegistry) *ControlAdapter {
	adapter := &ControlAdapter{
		config:  control.NewConfigStore(),
		metrics: metrics,
		debug:   control.NewDebugProbes(),
	}
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

// GetConfig returns a snapshot of the current configuration.
func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

// SetConfig merges new configuration and triggers reload hooks, both
// the store's own listeners and the process-wide set.
func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	c.config.SetConfig(cfg)
	control.TriggerHotReload()
	return nil
}

// Stats returns the merged config snapshot, metrics, and debug probe
// data.
func (c *ControlAdapter) Stats() map[string]any {
	combined := make(map[string]any)
	for k, v := range c.config.GetSnapshot() {
		combined[k] = v
	}
	for k, v := range c.metrics.GetSnapshot() {
		combined["metrics."+k] = v
	}
	for k, v := range c.debug.DumpState() {
		combined["debug."+k] = v
	}
	return combined
}

// OnReload registers a callback invoked on configuration changes.
func (c *ControlAdapter) OnReload(fn func()) {
	c.config.OnReload(fn)
}

// RegisterDebugProbe registers a named debug probe function.
func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// GetDebug exposes the probe registry for state dumps.
func (c *ControlAdapter) GetDebug() api.Debug {
	return c.debug
}
