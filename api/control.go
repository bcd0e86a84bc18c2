// File: api/control.go
// Package api
// Author: momentics
//
// Control-plane contract: runtime configuration, aggregated stats,
// hot-reload, and debug introspection for a running worker.

package api

// Control exposes configuration, live metrics and debug API.
type Control interface {
	// GetConfig returns a snapshot of all configuration settings.
	GetConfig() map[string]any

	// SetConfig atomically merges configuration settings and triggers
	// reload hooks.
	SetConfig(cfg map[string]any) error

	// Stats returns the merged config, metrics, and debug-probe view
	// of the worker.
	Stats() map[string]any

	// OnReload registers a callback for config updates.
	OnReload(fn func())

	// RegisterDebugProbe registers a named debug probe function,
	// sampled by GetDebug().DumpState().
	RegisterDebugProbe(name string, fn func() any)

	// GetDebug exposes the probe registry for state dumps.
	GetDebug() Debug
}
