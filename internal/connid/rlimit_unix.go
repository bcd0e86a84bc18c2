//go:build linux || darwin || freebsd || netbsd || openbsd

// File: internal/connid/rlimit_unix.go
package connid

import "golang.org/x/sys/unix"

// MaxFDHint returns RLIMIT_NOFILE's current soft limit, used to size
// the table at startup.
func MaxFDHint() int {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 1024
	}
	n := int(rl.Cur)
	if n <= 0 {
		return 1024
	}
	return n
}
