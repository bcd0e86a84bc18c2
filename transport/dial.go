// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"context"
	"net"
	"time"

	"github.com/momentics/fio/pool"
)

// Dial establishes an outbound TCP connection without blocking the
// caller: it returns immediately and runs the dial on its own
// goroutine, invoking exactly one of onConnect (with a reactor-ready
// *NetConn) or onFail. The caller registers the NetConn with its
// reactor and attaches a protocol from onConnect, typically a
// client-mode WSProtocol for outbound WebSocket sessions.
func Dial(ctx context.Context, addr string, timeout time.Duration, p pool.BytePool, onConnect func(*NetConn), onFail func(error)) {
	go func() {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			if onFail != nil {
				onFail(err)
			}
			return
		}
		nc, err := NewNetConn(conn, p)
		if err != nil {
			conn.Close()
			if onFail != nil {
				onFail(err)
			}
			return
		}
		onConnect(nc)
	}()
}
