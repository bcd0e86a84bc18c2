// File: internal/deferfifo/fifo.go
// Package deferfifo implements the reactor's deferred-task queue: tasks
// scheduled from any thread, always drained in enqueue order on the
// reactor tick. Backed by github.com/eapache/queue's ring buffer.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package deferfifo

import (
	"sync"

	"github.com/eapache/queue"
)

// Task is a single deferred callback.
type Task func()

// FIFO is a thread-safe, strictly-ordered queue of deferred tasks.
type FIFO struct {
	mu sync.Mutex
	q  *queue.Queue
}

// New creates an empty FIFO.
func New() *FIFO {
	return &FIFO{q: queue.New()}
}

// Push appends a task; safe from any goroutine.
func (f *FIFO) Push(t Task) {
	f.mu.Lock()
	f.q.Add(t)
	f.mu.Unlock()
}

// Len reports the number of pending tasks.
func (f *FIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.q.Length()
}

// DrainOnce runs every task currently queued, in enqueue order, and
// returns how many ran. Tasks pushed by a running task are not executed
// until the next DrainOnce call, bounding a single reactor tick.
func (f *FIFO) DrainOnce() int {
	f.mu.Lock()
	n := f.q.Length()
	tasks := make([]Task, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, f.q.Remove().(Task))
	}
	f.mu.Unlock()

	for _, t := range tasks {
		t()
	}
	return len(tasks)
}
