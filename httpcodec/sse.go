// File: httpcodec/sse.go
// Server-Sent Events emission for the "sse" upgrade token resolved by
// UpgradeKind: a text/event-stream chunked response carrying id:/
// event:/data: fields.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package httpcodec

import "fmt"

// SSEWriter streams Server-Sent Events over a chunked response body.
type SSEWriter struct {
	chunks *ChunkWriter
}

// WriteSSEHead emits the status line and SSE-flavored headers, and
// returns an SSEWriter ready to stream events.
func WriteSSEHead(w interface {
	Write([]byte) (int, error)
}, resp *Response) (*SSEWriter, error) {
	resp.Status = 200
	resp.Header.Set("Content-Type", "text/event-stream")
	resp.Header.Set("Cache-Control", "no-cache")
	cw, err := WriteChunkedHead(w, resp)
	if err != nil {
		return nil, err
	}
	return &SSEWriter{chunks: cw}, nil
}

// Event is one Server-Sent Event.
type Event struct {
	ID    string
	Name  string
	Data  string
	Retry int // milliseconds; zero means unset
}

// WriteEvent serializes and flushes one SSE event as a single chunk.
func (s *SSEWriter) WriteEvent(ev Event) error {
	var buf []byte
	if ev.ID != "" {
		buf = append(buf, fmt.Sprintf("id: %s\n", ev.ID)...)
	}
	if ev.Name != "" {
		buf = append(buf, fmt.Sprintf("event: %s\n", ev.Name)...)
	}
	if ev.Retry > 0 {
		buf = append(buf, fmt.Sprintf("retry: %d\n", ev.Retry)...)
	}
	for _, line := range splitLines(ev.Data) {
		buf = append(buf, fmt.Sprintf("data: %s\n", line)...)
	}
	buf = append(buf, '\n')
	return s.chunks.WriteChunk(buf)
}

// Close ends the SSE stream.
func (s *SSEWriter) Close() error { return s.chunks.Close() }

func splitLines(s string) []string {
	if s == "" {
		return []string{""}
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
