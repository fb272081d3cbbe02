package session

import (
	"sync"
	"time"
)

// OutputQueue is an unbounded FIFO of pending output lines with a single
// consumer. Put never blocks.
type OutputQueue struct {
	mu     sync.Mutex
	items  []string
	closed bool
	wake   chan struct{}
}

func NewOutputQueue() *OutputQueue {
	return &OutputQueue{wake: make(chan struct{}, 1)}
}

// Put appends line and wakes the consumer. Lines put after Close are dropped.
func (q *OutputQueue) Put(line string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, line)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Take returns the oldest line. It waits at most wait for one to arrive and
// reports false on timeout or when the queue is closed.
func (q *OutputQueue) Take(wait time.Duration) (string, bool) {
	if line, ok, closed := q.pop(); ok || closed {
		return line, ok
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-q.wake:
			if line, ok, closed := q.pop(); ok || closed {
				return line, ok
			}
		case <-timer.C:
			line, ok, _ := q.pop()
			return line, ok
		}
	}
}

func (q *OutputQueue) pop() (string, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", false, true
	}
	if len(q.items) == 0 {
		return "", false, false
	}
	line := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return line, true, false
}

// Close discards every pending line and wakes the consumer.
func (q *OutputQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *OutputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Run delivers lines to write in FIFO order until running reports false, the
// queue is closed or write fails. Write failures are not reported; the
// connection's reader notices the broken socket on its own.
func (q *OutputQueue) Run(wait time.Duration, running func() bool, write func(string) error) {
	for running() {
		line, ok := q.Take(wait)
		if !ok {
			q.mu.Lock()
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			continue
		}
		if !running() {
			return
		}
		if err := write(line); err != nil {
			return
		}
	}
}
