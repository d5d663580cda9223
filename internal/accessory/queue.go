package accessory

import (
	"context"
	"sync/atomic"
)

// defaultQueueSize bounds work buffered behind a slow broker or database.
const defaultQueueSize = 256

// queue runs adapter work on one goroutine in submission order, so change
// listeners never wait on I/O. When full, new work is dropped.
type queue struct {
	name    string
	ch      chan func()
	logger  Logger
	dropped atomic.Uint64
}

func newQueue(name string, size int, logger Logger) *queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &queue{name: name, ch: make(chan func(), size), logger: logger}
}

// push enqueues fn without blocking and reports whether it was accepted.
func (q *queue) push(fn func()) bool {
	select {
	case q.ch <- fn:
		return true
	default:
		n := q.dropped.Add(1)
		if q.logger != nil {
			q.logger.Warn("adapter queue full, dropping update", "queue", q.name, "dropped", n)
		}
		return false
	}
}

// run executes queued work until ctx is cancelled. A panicking job is
// logged and does not stop the worker.
func (q *queue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-q.ch:
			q.exec(fn)
		}
	}
}

// drain executes everything already queued and returns.
func (q *queue) drain() {
	for {
		select {
		case fn := <-q.ch:
			q.exec(fn)
		default:
			return
		}
	}
}

func (q *queue) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil && q.logger != nil {
			q.logger.Error("adapter job panic recovered", "queue", q.name, "panic", r)
		}
	}()
	fn()
}
