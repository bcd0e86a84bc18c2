// File: httpcodec/request_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package httpcodec_test

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/momentics/fio/httpcodec"
)

func TestParseRequest_FixedBody(t *testing.T) {
	raw := "POST /echo HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Content-Length: 11\r\n" +
		"\r\n" +
		"hello world"
	r := bufio.NewReader(bytes.NewBufferString(raw))

	req, err := httpcodec.ParseRequest(r, httpcodec.DefaultLimits())
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.Method != "POST" || req.Path != "/echo" || req.Version != "HTTP/1.1" {
		t.Fatalf("unexpected request line: %+v", req)
	}
	if req.Header.Get("Host") != "example.com" {
		t.Fatalf("header not parsed: %+v", req.Header)
	}
	if string(req.Body) != "hello world" {
		t.Fatalf("body mismatch: got %q", req.Body)
	}
}

func TestParseRequest_ChunkedBody(t *testing.T) {
	raw := "PUT /upload HTTP/1.1\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"\r\n" +
		"5\r\nhello\r\n" +
		"6\r\n world\r\n" +
		"0\r\n\r\n"
	r := bufio.NewReader(bytes.NewBufferString(raw))

	req, err := httpcodec.ParseRequest(r, httpcodec.DefaultLimits())
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if !req.Chunked {
		t.Fatalf("expected Chunked=true")
	}
	if string(req.Body) != "hello world" {
		t.Fatalf("chunked body mismatch: got %q", req.Body)
	}
}

// TestHTTPRoundTripLaw checks that a body written with WriteFixed
// arrives intact when the same bytes are read back on the other end:
// Content-Length and body must match exactly.
func TestHTTPRoundTripLaw(t *testing.T) {
	body := []byte("the quick brown fox jumps over the lazy dog")

	resp := httpcodec.NewResponse()
	var buf bytes.Buffer
	if err := httpcodec.WriteFixed(&buf, resp, body); err != nil {
		t.Fatalf("WriteFixed: %v", err)
	}

	r := bufio.NewReader(&buf)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if line != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("unexpected status line: %q", line)
	}
	sawContentLength := false
	for {
		hline, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		if hline == "\r\n" {
			break
		}
		if hline == "Content-Length: 43\r\n" {
			sawContentLength = true
		}
	}
	if !sawContentLength {
		t.Fatalf("expected Content-Length: 43 for a %d-byte body", len(body))
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("round-trip body mismatch: got %q want %q", got, body)
	}
}

// TestParseRequest_KeepAlivePipelining: two requests pipelined
// back-to-back on the same connection must each parse independently,
// leaving the reader positioned exactly at the start of the next
// request.
func TestParseRequest_KeepAlivePipelining(t *testing.T) {
	raw := "GET /one HTTP/1.1\r\nHost: a\r\nContent-Length: 0\r\n\r\n" +
		"GET /two HTTP/1.1\r\nHost: a\r\nContent-Length: 0\r\n\r\n"
	r := bufio.NewReader(bytes.NewBufferString(raw))

	first, err := httpcodec.ParseRequest(r, httpcodec.DefaultLimits())
	if err != nil {
		t.Fatalf("first ParseRequest: %v", err)
	}
	if first.Path != "/one" {
		t.Fatalf("expected /one, got %q", first.Path)
	}

	second, err := httpcodec.ParseRequest(r, httpcodec.DefaultLimits())
	if err != nil {
		t.Fatalf("second ParseRequest: %v", err)
	}
	if second.Path != "/two" {
		t.Fatalf("expected /two, got %q", second.Path)
	}
}

func TestParseRequest_MalformedRequestLine(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("GARBAGE\r\n\r\n"))
	if _, err := httpcodec.ParseRequest(r, httpcodec.DefaultLimits()); err == nil {
		t.Fatalf("expected parse error for malformed request line")
	}
}
