// File: api/protocol.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Protocol is the per-connection callback vtable attached to a connection
// UUID. Exactly one Protocol is attached to a uuid at a time; it is not
// owned by the framework — OnClose is the signal for the user to release
// any resources the protocol holds.

package api

// ConnUUID is the opaque connection handle type used at API boundaries.
// It is declared here (rather than imported from internal/connid) so
// that api stays free of internal dependencies; internal/connid.UUID is
// convertible to/from ConnUUID.
type ConnUUID uint64

// Protocol is the callback vtable a user attaches to a connection.
type Protocol interface {
	// OnData is invoked when bytes are available to read on the
	// connection. At most one OnData is ever in flight per uuid.
	OnData(u ConnUUID)
	// OnReady is invoked when the outgoing write queue drains to empty.
	OnReady(u ConnUUID)
	// OnShutdown is invoked once, before close, giving the protocol a
	// final chance to enqueue a goodbye frame.
	OnShutdown(u ConnUUID)
	// OnClose is invoked exactly once when the uuid is finally closed.
	OnClose(u ConnUUID)
	// OnPing is invoked when the connection's timeout elapses with no
	// ping observed. BaseProtocol's OnPing does nothing, so a protocol
	// that embeds BaseProtocol without overriding OnPing leaves an idle
	// connection open.
	OnPing(u ConnUUID)
}

// BaseProtocol provides no-op implementations of every Protocol method
// so embedding types only need to override what they care about.
type BaseProtocol struct{}

func (BaseProtocol) OnData(ConnUUID)     {}
func (BaseProtocol) OnReady(ConnUUID)    {}
func (BaseProtocol) OnShutdown(ConnUUID) {}
func (BaseProtocol) OnClose(ConnUUID)    {}
func (BaseProtocol) OnPing(u ConnUUID)   {}
