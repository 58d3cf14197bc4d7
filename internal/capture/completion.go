package capture

import (
	"context"
	"sync"
)

// Completion is a one-shot signal from an OS callback thread to a waiting
// goroutine. Signal may happen before Wait starts; the done flag is checked
// before every wait so the signal is never lost.
type Completion struct {
	mu   sync.Mutex
	cond *sync.Cond
	done bool
}

// NewCompletion creates an unsignalled completion
func NewCompletion() *Completion {
	c := &Completion{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Signal marks the completion done and wakes waiters. Extra calls are no-ops.
func (c *Completion) Signal() {
	c.mu.Lock()
	c.done = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Done reports whether Signal has been called
func (c *Completion) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Wait blocks until Signal is called or ctx ends.
func (c *Completion) Wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.cond.Broadcast()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.done {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
	}
	return nil
}
