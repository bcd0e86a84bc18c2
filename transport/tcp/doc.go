// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp implements the low-level TCP accept loop: it parses one HTTP/1.1 request per connection and hands it to a handler, which performs any WebSocket handshake.
// Provides hook points and extensibility for advanced optimizations.
package tcp
