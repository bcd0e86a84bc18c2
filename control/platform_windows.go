//go:build windows

// control/platform_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows-specific debug probes. No fd-limit probe here: handle
// ceilings are not surfaced the way RLIMIT_NOFILE is.

package control

import (
	"runtime"
)

// RegisterPlatformProbes installs the Windows platform probe set.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
}
