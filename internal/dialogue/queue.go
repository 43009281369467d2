package dialogue

import (
	"context"
	"sync"
	"time"

	"github.com/lumehara/danmakucast/internal/upstream"
)

// Queue is the ingress buffer between the upstream feed and the
// orchestrator. It is an unbounded FIFO; the coalescing semantics live in
// the consumer, which drains everything and keeps only the newest event, so
// a burst of chat collapses to the latest message while the orchestrator is
// busy speaking.
type Queue struct {
	mu     sync.Mutex
	items  []upstream.Event
	signal chan struct{}
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push appends one event. Never blocks.
func (q *Queue) Push(ev upstream.Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DrainLatest empties the queue and returns the newest event. When the
// queue is empty it waits up to timeout for a push, then tries once more.
// The second return is false when nothing arrived.
func (q *Queue) DrainLatest(ctx context.Context, timeout time.Duration) (upstream.Event, bool) {
	if ev, ok := q.takeLatest(); ok {
		return ev, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.signal:
		return q.takeLatest()
	case <-timer.C:
		return upstream.Event{}, false
	case <-ctx.Done():
		return upstream.Event{}, false
	}
}

// takeLatest removes all buffered events and returns the last one.
func (q *Queue) takeLatest() (upstream.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return upstream.Event{}, false
	}
	ev := q.items[len(q.items)-1]
	q.items = nil
	// Drop a stale wakeup so the next empty wait does not spin.
	select {
	case <-q.signal:
	default:
	}
	return ev, true
}
