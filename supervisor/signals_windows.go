//go:build windows

// File: supervisor/signals_windows.go
// Windows has no SIGPIPE/SIGCHLD equivalents to ignore or reap.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package supervisor

import "os"

func registerIgnoredSignals(_ chan os.Signal) {}
