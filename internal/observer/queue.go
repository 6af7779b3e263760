package observer

import (
	"sync"

	"github.com/bryanchriswhite/windowobserver/internal/event"
)

// resultQueue is an unbounded single-consumer channel. push never blocks and
// becomes a no-op once the queue is closed.
type resultQueue struct {
	mu      sync.Mutex
	items   []event.Result
	closed  bool
	discard bool
	wake    chan struct{}
	out     chan event.Result
	gone    chan struct{}
}

func newResultQueue() *resultQueue {
	q := &resultQueue{
		wake: make(chan struct{}, 1),
		out:  make(chan event.Result),
		gone: make(chan struct{}),
	}
	go q.pump()
	return q
}

func (q *resultQueue) push(r event.Result) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, r)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *resultQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close ends the stream after pending results are consumed
func (q *resultQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// abandon ends the stream immediately, dropping pending results
func (q *resultQueue) abandon() {
	q.mu.Lock()
	if !q.discard {
		q.closed = true
		q.discard = true
		q.items = nil
		close(q.gone)
	}
	q.mu.Unlock()
	q.signal()
}

func (q *resultQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if q.discard || (q.closed && len(q.items) == 0) {
			q.mu.Unlock()
			return
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			<-q.wake
			continue
		}
		item := q.items[0]
		q.items[0] = event.Result{}
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- item:
		case <-q.gone:
			return
		}
	}
}
