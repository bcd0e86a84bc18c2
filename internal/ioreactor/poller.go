// File: internal/ioreactor/poller.go
// Package ioreactor implements the one-shot edge-triggered poller
// abstraction and the single-threaded reactor built on top of it.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ioreactor

// Interest describes which readiness conditions a fd should be armed for.
type Interest struct {
	Read  bool
	Write bool
}

// Event reports one readiness delivery for a single fd. The contract is
// one-shot edge-triggered: after delivery, interest for fd is cleared
// and the caller must call Monitor again to re-arm it.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	Errored  bool
}

// Poller is the OS-level readiness notification abstraction. All
// implementations present a one-shot edge-triggered contract regardless
// of the underlying facility.
type Poller interface {
	// Monitor arms (or re-arms) interest for fd.
	Monitor(fd int, interest Interest) error
	// Wait blocks up to timeoutMs (negative means forever) and appends
	// ready events to dst, returning the updated slice.
	Wait(timeoutMs int, dst []Event) ([]Event, error)
	// Forget removes fd from the poller entirely.
	Forget(fd int) error
	// Close releases the poller's OS resources.
	Close() error
}
