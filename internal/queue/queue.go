// Package queue is the Event Processor's in-process, non-durable event
// queue. It is a thin wrapper over a buffered channel: a crash drops
// whatever is queued, but the task record still reflects its last
// persisted status.
package queue

import (
	"github.com/taskflowd/taskflowd/internal/events"
	"github.com/taskflowd/taskflowd/internal/observability"
)

// DefaultCapacity is generous enough that submission never blocks under
// normal load; the external scheduler, not this queue, is the real rate
// bound.
const DefaultCapacity = 10000

// Queue is a bounded, FIFO, multi-producer multi-consumer channel of
// lifecycle events.
type Queue struct {
	ch chan events.Event
}

// New constructs a queue with the given capacity. A non-positive capacity
// falls back to DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan events.Event, capacity)}
}

// Enqueue is fire-and-forget from the caller's perspective: if the queue
// is bounded and full, it blocks briefly rather than rejecting the event.
func (q *Queue) Enqueue(ev events.Event) {
	q.ch <- ev
	observability.EventQueueDepth.Set(float64(len(q.ch)))
}

// C exposes the receive side for workers to select on alongside context
// cancellation, so a stop signal is observed immediately rather than only
// at the next polling interval.
func (q *Queue) C() <-chan events.Event {
	return q.ch
}

// Len reports the number of events currently queued.
func (q *Queue) Len() int {
	return len(q.ch)
}
