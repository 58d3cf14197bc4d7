// Package queue provides the bounded FIFO that hands detected events from the
// capture goroutine to the dispatcher.
package queue

import (
	"fmt"
	"sync"

	"github.com/emirpasic/gods/queues/circularbuffer"

	"github.com/frosk-go/frosk/internal/detect"
)

// DefaultCapacity is the queue size used when none is configured
const DefaultCapacity = 16

// Policy decides which event is lost when the queue is full
type Policy string

const (
	// DropOldest evicts the oldest queued event to make room
	DropOldest Policy = "drop-oldest"
	// DropNewest discards the incoming event
	DropNewest Policy = "drop-newest"
)

// ParsePolicy validates a policy string
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case DropOldest, DropNewest:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("invalid overflow policy %q", s)
	}
}

// Queue is a mutex-guarded bounded FIFO of events
type Queue struct {
	mu      sync.Mutex
	buf     *circularbuffer.Queue
	policy  Policy
	dropped uint64
}

// New creates a queue. Non-positive capacity falls back to DefaultCapacity,
// an empty policy to DropOldest.
func New(capacity int, policy Policy) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if policy == "" {
		policy = DropOldest
	}
	return &Queue{
		buf:    circularbuffer.New(capacity),
		policy: policy,
	}
}

// Push enqueues ev and reports whether an event was lost to make room.
func (q *Queue) Push(ev detect.Event) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.buf.Full() {
		q.dropped++
		if q.policy == DropNewest {
			return true
		}
		q.buf.Dequeue()
		dropped = true
	}
	q.buf.Enqueue(ev)
	return dropped
}

// Pop removes and returns the oldest event.
func (q *Queue) Pop() (detect.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	v, ok := q.buf.Dequeue()
	if !ok {
		return detect.Event{}, false
	}
	return v.(detect.Event), true
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Size()
}

// Dropped returns how many events have been lost to overflow
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear discards all queued events
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf.Clear()
}

// Policy returns the overflow policy
func (q *Queue) Policy() Policy {
	return q.policy
}
