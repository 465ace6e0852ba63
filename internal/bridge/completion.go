// Package bridge holds the completion primitive that turns the gateway's
// asynchronous callbacks into blocking calls: one waiter, arbitrarily many
// callback-side completers.
package bridge

import (
	"sync"
	"time"

	"ctpgate/models"
)

// Completion correlates one blocking wait with one asynchronous completion.
// Reset opens a new cycle; the first Complete of a cycle releases the
// waiter, later ones are ignored. Stale callbacks are kept away from the
// wrong cycle by the callers: sessions drop events whose correlation key
// does not match the in-flight call before ever touching the Completion.
type Completion struct {
	mu   sync.Mutex
	ch   chan struct{}
	err  error
	done bool
}

// New returns a Completion with an open first cycle.
func New() *Completion {
	c := &Completion{}
	c.Reset()
	return c
}

// Reset clears prior state and opens a new cycle.
func (c *Completion) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch = make(chan struct{})
	c.err = nil
	c.done = false
}

// Complete releases the waiter of the current cycle. A nil err means
// success; otherwise the waiter fails with err. Only the first call per
// cycle has effect.
func (c *Completion) Complete(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.done = true
	c.err = err
	close(c.ch)
}

// CompleteMsg is Complete with a gateway business message.
func (c *Completion) CompleteMsg(msg string) {
	if msg == "" {
		c.Complete(nil)
		return
	}
	c.Complete(&models.RemoteBusinessError{Msg: msg})
}

// Wait blocks until the current cycle completes or timeout elapses. On
// expiry it returns a TimeoutError labeled with op; the cycle stays open,
// so callers may Wait again (the catalog load does, while the item count
// keeps growing).
func (c *Completion) Wait(timeout time.Duration, op string) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
	case <-timer.C:
		return &models.TimeoutError{Op: op}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
