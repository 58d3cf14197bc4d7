// Package dispatch runs the worker that drains the event queue and invokes
// the action handler off the capture path.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/frosk-go/frosk/internal/detect"
	"github.com/frosk-go/frosk/internal/logger"
	"github.com/frosk-go/frosk/internal/metrics"
)

// DefaultPollInterval is how often the queue is checked for new events
const DefaultPollInterval = 50 * time.Millisecond

// Handler reacts to a detected event
type Handler interface {
	Handle(ctx context.Context, ev detect.Event) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, ev detect.Event) error

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, ev detect.Event) error {
	return f(ctx, ev)
}

// Source yields queued events
type Source interface {
	Pop() (detect.Event, bool)
}

// Config holds dispatcher settings
type Config struct {
	PollInterval time.Duration
}

// Dispatcher pops events and runs the handler on each, one at a time.
type Dispatcher struct {
	source   Source
	handler  Handler
	interval time.Duration
	logger   *logger.Logger
	metrics  *metrics.Metrics
	// mu keeps handlers one at a time when Flush races a poll
	mu sync.Mutex
}

// New creates a dispatcher. m may be nil.
func New(source Source, handler Handler, config Config, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	interval := config.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Dispatcher{
		source:   source,
		handler:  handler,
		interval: interval,
		logger:   log,
		metrics:  m,
	}
}

// Run drains the queue every poll interval until ctx is cancelled. Handler
// failures and panics are logged and the loop keeps going.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Debug("Dispatcher started (poll every %v)", d.interval)
	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("Dispatcher stopped")
			return nil
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// Flush handles every event still queued and returns once the queue is empty.
// A finite source calls it before shutting the dispatcher down.
func (d *Dispatcher) Flush(ctx context.Context) {
	d.drain(ctx)
}

func (d *Dispatcher) drain(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for ctx.Err() == nil {
		ev, ok := d.source.Pop()
		if !ok {
			return
		}
		d.handle(ctx, ev)
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev detect.Event) {
	start := time.Now()
	result := "success"

	err := d.invoke(ctx, ev)
	if err != nil {
		result = "error"
		var pe *panicError
		if errors.As(err, &pe) {
			result = "panic"
		}
		d.logger.Error("Handler failed for event %s (score %.3f): %v", ev.ID, ev.Score, err)
	} else {
		d.logger.Info("Handled event %s (score %.3f) in %v", ev.ID, ev.Score, time.Since(start).Round(time.Millisecond))
	}

	d.metrics.RecordHandler(result, time.Since(start).Seconds())
}

type panicError struct {
	value interface{}
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v\n%s", p.value, p.stack)
}

func (d *Dispatcher) invoke(ctx context.Context, ev detect.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return d.handler.Handle(ctx, ev)
}
