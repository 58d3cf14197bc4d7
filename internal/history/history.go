// Package history keeps the recent correlation scores and emitted events for
// presentation. The capture goroutine writes; readers take copies.
package history

import (
	"sync"

	"github.com/frosk-go/frosk/internal/detect"
	"github.com/frosk-go/frosk/internal/dsp"
)

const (
	// DefaultRetention is the number of scores kept
	DefaultRetention = 8000
	// DefaultEventLogSize is the number of events kept
	DefaultEventLogSize = 256
)

// Scores is a fixed-size ring of the most recent correlation scores,
// zero-filled at creation.
type Scores struct {
	mu     sync.Mutex
	window *dsp.Window
	total  uint64
	last   float32
}

// NewScores creates a score history; non-positive retention uses DefaultRetention.
func NewScores(retention int) *Scores {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Scores{window: dsp.NewWindow(retention)}
}

// Push records one score.
func (s *Scores) Push(score float32) {
	s.mu.Lock()
	s.window.Push(score)
	s.total++
	s.last = score
	s.mu.Unlock()
}

// Snapshot returns the retained scores oldest-first. The copy always has
// exactly Retention() entries.
func (s *Scores) Snapshot() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Samples()
}

// Retention returns the ring size
func (s *Scores) Retention() int {
	return s.window.Len()
}

// Last returns the most recent score and how many have been pushed in total
func (s *Scores) Last() (float32, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.total
}

// Events is a bounded log of emitted events, newest last.
type Events struct {
	mu     sync.Mutex
	events []detect.Event
	max    int
	total  uint64
}

// NewEvents creates an event log; non-positive size uses DefaultEventLogSize.
func NewEvents(size int) *Events {
	if size <= 0 {
		size = DefaultEventLogSize
	}
	return &Events{
		events: make([]detect.Event, 0, size),
		max:    size,
	}
}

// Append records ev, discarding the oldest entry when full.
func (e *Events) Append(ev detect.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.events) == e.max {
		copy(e.events, e.events[1:])
		e.events = e.events[:e.max-1]
	}
	e.events = append(e.events, ev)
	e.total++
}

// Snapshot returns a copy of the logged events, oldest first.
func (e *Events) Snapshot() []detect.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]detect.Event, len(e.events))
	copy(out, e.events)
	return out
}

// Total returns how many events have ever been appended
func (e *Events) Total() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}
