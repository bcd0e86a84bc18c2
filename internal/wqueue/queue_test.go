package wqueue_test

import (
	"bytes"
	"os"
	"syscall"
	"testing"

	"github.com/momentics/fio/internal/wqueue"
)

type capturingWriter struct {
	out       bytes.Buffer
	blockAt   int // once this many bytes total have been written, EAGAIN
	written   int
	failAfter int
	failErr   error
}

func (w *capturingWriter) Write(p []byte) (int, error) {
	if w.failAfter >= 0 && w.written >= w.failAfter {
		return 0, w.failErr
	}
	if w.blockAt > 0 && w.written >= w.blockAt {
		return 0, syscall.EAGAIN
	}
	n := len(p)
	if w.blockAt > 0 && w.written+n > w.blockAt {
		n = w.blockAt - w.written
	}
	w.out.Write(p[:n])
	w.written += n
	if n < len(p) {
		return n, syscall.EAGAIN
	}
	return n, nil
}

func TestOrderingAcrossMemoryAndFileChunks(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "wqueue")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmp.WriteString("FILEDATA"); err != nil {
		t.Fatal(err)
	}

	q := wqueue.New()
	q.EnqueueMemory([]byte("AAA"), nil)
	q.EnqueueFile(tmp, 0, 8, true)
	q.EnqueueMemory([]byte("BBB"), nil)

	w := &capturingWriter{failAfter: -1}
	for {
		res := q.Flush(w)
		if res == wqueue.Drained {
			break
		}
		if res != wqueue.Progress {
			t.Fatalf("unexpected flush result %v", res)
		}
	}

	want := "AAAFILEDATABBB"
	if got := w.out.String(); got != want {
		t.Fatalf("order violated: got %q want %q", got, want)
	}
}

func TestFlushReportsWouldBlock(t *testing.T) {
	q := wqueue.New()
	q.EnqueueMemory(bytes.Repeat([]byte("x"), 100), nil)
	w := &capturingWriter{blockAt: 10, failAfter: -1}
	res := q.Flush(w)
	if res != wqueue.WouldBlock {
		t.Fatalf("expected WouldBlock, got %v", res)
	}
}

func TestFlushReportsPeerClosed(t *testing.T) {
	q := wqueue.New()
	q.EnqueueMemory([]byte("hello"), nil)
	w := &capturingWriter{failAfter: 0, failErr: syscall.EPIPE}
	res := q.Flush(w)
	if res != wqueue.PeerClosed {
		t.Fatalf("expected PeerClosed, got %v", res)
	}
}

func TestEnqueueAfterCloseNeverSends(t *testing.T) {
	q := wqueue.New()
	q.Close()
	deallocCalled := false
	q.EnqueueMemory([]byte("late"), func([]byte) { deallocCalled = true })
	if !deallocCalled {
		t.Fatalf("buffer enqueued after close should be freed immediately")
	}
	w := &capturingWriter{failAfter: -1}
	if res := q.Flush(w); res != wqueue.Error {
		t.Fatalf("flushing a closed queue should report Error, got %v", res)
	}
	if w.out.Len() != 0 {
		t.Fatalf("no bytes should have left the socket after close")
	}
}
