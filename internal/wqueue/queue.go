// File: internal/wqueue/queue.go
// Package wqueue implements the per-connection outgoing write queue:
// an ordered sequence of memory and fd-backed chunks with partial-write
// bookkeeping and ordering guarantees. Flush writes one chunk per write
// call; it does not issue vectored (scatter/gather) writes.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package wqueue

import (
	"errors"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/momentics/fio/api"
)

// FlushResult reports the outcome of one flush attempt.
type FlushResult int

const (
	// Progress means some bytes were written and the queue may still
	// have data pending.
	Progress FlushResult = iota
	// Drained means the queue became empty; the caller should invoke
	// the protocol's OnReady.
	Drained
	// WouldBlock means a write returned EAGAIN; the caller should
	// re-arm for writability and try again later.
	WouldBlock
	// PeerClosed means the write failed with EPIPE/ECONNRESET.
	PeerClosed
	// Error means a write failed for any other reason; the caller
	// should schedule the connection closed.
	Error
)

// chunkKind discriminates the tagged variant held by chunk.
type chunkKind int

const (
	kindMemory chunkKind = iota
	kindFile
)

type chunk struct {
	kind   chunkKind
	offset int64
	length int64

	// memory chunk fields
	buf     []byte
	dealloc func([]byte)

	// file chunk fields
	file        *os.File
	closeOnDone bool
}

func (c *chunk) remaining() int64 { return c.length - c.offset }

func (c *chunk) release() {
	switch c.kind {
	case kindMemory:
		if c.dealloc != nil {
			c.dealloc(c.buf)
		}
	case kindFile:
		if c.closeOnDone && c.file != nil {
			c.file.Close()
		}
	}
}

// Writer is the subset of net.Conn / syscall-backed write operations the
// queue needs: a plain Write for memory chunks and ReadFrom-style file
// sending isn't assumed portable, so file chunks are read into a scratch
// buffer and written through Write as well — callers that want true
// sendfile zero-copy can supply a FileWriter implementation instead.
type Writer interface {
	Write(p []byte) (int, error)
}

// FileWriter is an optional capability a Writer may also implement to
// perform a zero-copy file-to-socket transfer (e.g. via syscall.Sendfile
// on Linux). When absent, Queue falls back to read+Write.
type FileWriter interface {
	WriteFile(f *os.File, offset int64, n int64) (written int64, err error)
}

// Queue is a single connection's ordered outgoing chunk list.
//
// Enqueue* methods are safe to call from any goroutine. Flush must only
// be called from the reactor thread holding the connection's lock.
type Queue struct {
	mu     sync.Mutex
	chunks []*chunk
	closed bool

	scratch []byte
}

// New creates an empty write queue.
func New() *Queue {
	return &Queue{scratch: make([]byte, 64*1024)}
}

// EnqueueMemory appends an owned memory buffer. dealloc, if non-nil, is
// invoked exactly once when the chunk has been fully written or the
// queue is torn down.
func (q *Queue) EnqueueMemory(buf []byte, dealloc func([]byte)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		if dealloc != nil {
			dealloc(buf)
		}
		return
	}
	q.chunks = append(q.chunks, &chunk{
		kind:    kindMemory,
		buf:     buf,
		length:  int64(len(buf)),
		dealloc: dealloc,
	})
}

// EnqueueFile appends an open file descriptor to be sent starting at
// offset for length bytes. If closeOnDone, the file is closed by the
// queue once fully sent or on teardown.
func (q *Queue) EnqueueFile(f *os.File, offset, length int64, closeOnDone bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		if closeOnDone {
			f.Close()
		}
		return
	}
	q.chunks = append(q.chunks, &chunk{
		kind:        kindFile,
		file:        f,
		offset:      offset,
		length:      offset + length,
		closeOnDone: closeOnDone,
	})
}

// Empty reports whether the queue currently has no pending chunks.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks) == 0
}

// Len reports the number of pending chunks, for depth metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Flush attempts to write as many queued bytes as possible to w without
// blocking. It must be called with the connection's lock held (single
// flusher at a time per connection).
func (q *Queue) Flush(w Writer) FlushResult {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Error
		}
		if len(q.chunks) == 0 {
			q.mu.Unlock()
			return Drained
		}
		head := q.chunks[0]
		q.mu.Unlock()

		var n int64
		var err error
		switch head.kind {
		case kindMemory:
			n, err = q.writeMemory(w, head)
		case kindFile:
			n, err = q.writeFile(w, head)
		}

		if n > 0 {
			head.offset += n
		}

		if err != nil {
			if isWouldBlock(err) {
				return WouldBlock
			}
			if isPeerClosed(err) {
				q.drainAndClose()
				return PeerClosed
			}
			q.drainAndClose()
			return Error
		}

		if head.remaining() <= 0 {
			q.popHead()
			continue
		}
		// Partial write with no error: still made progress this round,
		// but nothing more to do until the socket is writable again.
		return Progress
	}
}

func (q *Queue) writeMemory(w Writer, c *chunk) (int64, error) {
	start := c.offset
	end := int64(len(c.buf))
	if start >= end {
		return 0, nil
	}
	n, err := w.Write(c.buf[start:end])
	return int64(n), err
}

func (q *Queue) writeFile(w Writer, c *chunk) (int64, error) {
	remaining := c.remaining()
	if remaining <= 0 {
		return 0, nil
	}
	if fw, ok := w.(FileWriter); ok {
		return fw.WriteFile(c.file, c.offset, remaining)
	}
	n := remaining
	if n > int64(len(q.scratch)) {
		n = int64(len(q.scratch))
	}
	buf := q.scratch[:n]
	rn, rerr := c.file.ReadAt(buf, c.offset)
	if rn == 0 && rerr != nil {
		if rerr == io.EOF {
			// Treat as fully consumed: nothing left to send.
			return remaining, nil
		}
		return 0, rerr
	}
	wn, werr := w.Write(buf[:rn])
	return int64(wn), werr
}

func (q *Queue) popHead() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.chunks) == 0 {
		return
	}
	head := q.chunks[0]
	q.chunks = q.chunks[1:]
	head.release()
}

// drainAndClose releases every remaining chunk without sending it and
// marks the queue closed; writes enqueued afterward are rejected.
func (q *Queue) drainAndClose() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range q.chunks {
		c.release()
	}
	q.chunks = nil
	q.closed = true
}

// Close tears down the queue immediately, releasing all pending chunks.
// Equivalent to drainAndClose but exported for use on connection close
// after the grace period has elapsed.
func (q *Queue) Close() {
	q.drainAndClose()
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, api.ErrWouldBlock)
}

func isPeerClosed(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.EOF)
}
