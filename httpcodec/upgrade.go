// File: httpcodec/upgrade.go
// WebSocket upgrade negotiation driven off the HTTP/1.1 request.
// Sec-WebSocket-Extensions option-list parsing is delegated to
// gobwas/httphead rather than hand-rolling a second comma-token
// splitter; Sec-WebSocket-Version and Sec-WebSocket-Key are read as
// plain header values.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package httpcodec

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"

	"github.com/gobwas/httphead"
)

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes the Sec-WebSocket-Accept value for clientKey per
// RFC 6455 §1.3.
func AcceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ValidateWebSocketUpgrade checks the request's WebSocket upgrade headers
// beyond the Connection/Upgrade tokens already checked by Request.Upgrade,
// using httphead to parse the Sec-WebSocket-Extensions option list
// (permessage extensions are ignored, but a conformant server must
// still parse the header without erroring on unknown options).
func ValidateWebSocketUpgrade(req *Request) (clientKey string, err error) {
	if req.Header.Get("Sec-WebSocket-Version") != "13" {
		return "", fmt.Errorf("httpcodec: unsupported websocket version %q", req.Header.Get("Sec-WebSocket-Version"))
	}
	clientKey = req.Header.Get("Sec-WebSocket-Key")
	if clientKey == "" {
		return "", fmt.Errorf("httpcodec: missing Sec-WebSocket-Key")
	}
	// Parse (and discard) the extensions option list purely to reject
	// malformed input the same way a strict RFC 6455 server would.
	if ext := req.Header.Get("Sec-WebSocket-Extensions"); ext != "" {
		ok := httphead.ScanOptions([]byte(ext), func(int, []byte, []byte, []byte) httphead.Control {
			return httphead.ControlContinue
		})
		if !ok {
			return "", fmt.Errorf("httpcodec: malformed Sec-WebSocket-Extensions")
		}
	}
	return clientKey, nil
}

// WriteWebSocketAccept emits the 101 Switching Protocols response that
// finalizes a WebSocket upgrade. After this call the caller swaps the
// connection's attached protocol for a WebSocket protocol object on
// the same uuid.
func WriteWebSocketAccept(w interface{ Write([]byte) (int, error) }, clientKey string) error {
	resp := NewResponse()
	resp.Status = 101
	resp.Header.Set("Upgrade", "websocket")
	resp.Header.Set("Connection", "Upgrade")
	resp.Header.Set("Sec-WebSocket-Accept", AcceptKey(clientKey))
	return writeHead(w, resp)
}

// RejectUpgrade writes a plain error response in place of an upgrade,
// e.g. when on_upgrade chooses not to finalize.
func RejectUpgrade(w interface{ Write([]byte) (int, error) }, status int, reason string) error {
	resp := NewResponse()
	resp.Status = status
	resp.Reason = reason
	resp.KeepAlive = false
	return WriteFixed(w, resp, nil)
}
