package agent

import "sync"

// CancelSignal is a broadcast-style cancellation primitive: many observers
// can check or wait on it, any one of them (or the owner) can trip it, and
// tripping it is idempotent. It is the Go stand-in for a "latest value,
// many observers" watch channel, checked at every suspension point in the
// agent loop.
type CancelSignal struct {
	mu       sync.Mutex
	ch       chan struct{}
	tripOnce sync.Once
}

// NewCancelSignal returns a signal in the not-cancelled state.
func NewCancelSignal() *CancelSignal {
	return &CancelSignal{ch: make(chan struct{})}
}

// Cancel trips the signal. Safe to call more than once or concurrently.
func (c *CancelSignal) Cancel() {
	c.tripOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		close(c.ch)
	})
}

// Done returns a channel that closes once Cancel has been called.
func (c *CancelSignal) Done() <-chan struct{} {
	return c.ch
}

// Cancelled reports whether Cancel has already been called.
func (c *CancelSignal) Cancelled() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}
