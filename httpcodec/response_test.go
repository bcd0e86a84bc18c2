// File: httpcodec/response_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package httpcodec_test

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/momentics/fio/httpcodec"
)

func TestWriteFixed_SetsContentLength(t *testing.T) {
	resp := httpcodec.NewResponse()
	var buf bytes.Buffer
	if err := httpcodec.WriteFixed(&buf, resp, []byte("abcde")); err != nil {
		t.Fatalf("WriteFixed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Content-Length: 5\r\n") {
		t.Fatalf("missing Content-Length header: %q", out)
	}
	if !strings.HasSuffix(out, "abcde") {
		t.Fatalf("body not appended: %q", out)
	}
}

func TestChunkWriter_RoundTrip(t *testing.T) {
	resp := httpcodec.NewResponse()
	var buf bytes.Buffer
	cw, err := httpcodec.WriteChunkedHead(&buf, resp)
	if err != nil {
		t.Fatalf("WriteChunkedHead: %v", err)
	}
	if err := cw.WriteChunk([]byte("hello ")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := cw.WriteChunk([]byte("world")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := bufio.NewReader(&buf)
	line, _ := r.ReadString('\n')
	if line != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("unexpected status line: %q", line)
	}
	sawTransferEncoding := false
	for {
		hline, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		if hline == "\r\n" {
			break
		}
		if strings.HasPrefix(hline, "Content-Length:") {
			t.Fatalf("chunked response must not set Content-Length: %q", hline)
		}
		if strings.HasPrefix(hline, "Transfer-Encoding: chunked") {
			sawTransferEncoding = true
		}
	}
	if !sawTransferEncoding {
		t.Fatalf("expected Transfer-Encoding: chunked header")
	}

	rest, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read chunk body: %v", err)
	}
	want := "6\r\nhello \r\n5\r\nworld\r\n0\r\n\r\n"
	if string(rest) != want {
		t.Fatalf("chunk encoding mismatch:\ngot  %q\nwant %q", rest, want)
	}
}

// TestWriteFixed_KeepAlivePipelining: two keep-alive responses written
// back-to-back on the same connection must each be independently
// parseable by a client reading in sequence, with no framing bleed
// between them.
func TestWriteFixed_KeepAlivePipelining(t *testing.T) {
	var buf bytes.Buffer

	first := httpcodec.NewResponse()
	if err := httpcodec.WriteFixed(&buf, first, []byte("one")); err != nil {
		t.Fatalf("WriteFixed(first): %v", err)
	}
	second := httpcodec.NewResponse()
	if err := httpcodec.WriteFixed(&buf, second, []byte("two")); err != nil {
		t.Fatalf("WriteFixed(second): %v", err)
	}

	r := bufio.NewReader(&buf)
	for _, want := range []string{"one", "two"} {
		line, err := r.ReadString('\n')
		if err != nil || line != "HTTP/1.1 200 OK\r\n" {
			t.Fatalf("unexpected status line: %q (err=%v)", line, err)
		}
		var contentLength string
		for {
			hline, err := r.ReadString('\n')
			if err != nil {
				t.Fatalf("read header: %v", err)
			}
			if hline == "\r\n" {
				break
			}
			if strings.HasPrefix(hline, "Content-Length:") {
				contentLength = strings.TrimSpace(strings.TrimPrefix(hline, "Content-Length:"))
			}
		}
		if contentLength != "3" {
			t.Fatalf("expected Content-Length: 3, got %q", contentLength)
		}
		body := make([]byte, 3)
		if _, err := io.ReadFull(r, body); err != nil {
			t.Fatalf("read body: %v", err)
		}
		if string(body) != want {
			t.Fatalf("body mismatch: got %q want %q", body, want)
		}
	}
}

func TestWriteFixed_ConnectionCloseWhenNotKeepAlive(t *testing.T) {
	resp := httpcodec.NewResponse()
	resp.KeepAlive = false
	var buf bytes.Buffer
	if err := httpcodec.WriteFixed(&buf, resp, nil); err != nil {
		t.Fatalf("WriteFixed: %v", err)
	}
	if !strings.Contains(buf.String(), "Connection: close\r\n") {
		t.Fatalf("expected Connection: close header, got %q", buf.String())
	}
}
