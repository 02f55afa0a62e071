// Package flight implements owner/waiter single-flight semantics for the
// coordinator: at most one live Call exists per key, later arrivals join
// it, and every joined caller observes the identical settled result.
package flight

import (
	"context"
	"sync"
	"time"
)

// Group tracks in-flight calls keyed by request key.
type Group[T any] struct {
	mu    sync.Mutex
	calls map[string]*Call[T]
}

// Call is one shared in-flight operation. Ownership of the result is
// shared by the owner and all joined waiters; the call settles exactly
// once (first settle wins).
type Call[T any] struct {
	created time.Time
	done    chan struct{}

	mu      sync.Mutex
	settled bool
	val     T
	err     error
	waiters int
	cancel  context.CancelFunc
}

// NewGroup creates an empty group.
func NewGroup[T any]() *Group[T] {
	return &Group[T]{
		calls: make(map[string]*Call[T]),
	}
}

// GetOrCreate returns the live call for key (owner=false, waiter count
// incremented) or creates a new one (owner=true). A call older than
// window is treated as abandoned: it is replaced, but keeps settling
// privately for the callers already joined to it.
func (g *Group[T]) GetOrCreate(key string, now time.Time, window time.Duration) (*Call[T], bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.calls[key]; ok && now.Sub(c.created) < window {
		c.mu.Lock()
		c.waiters++
		c.mu.Unlock()
		return c, false
	}

	c := &Call[T]{
		created: now,
		done:    make(chan struct{}),
		waiters: 1,
	}
	g.calls[key] = c
	return c, true
}

// Lookup returns the live call for key without joining it.
func (g *Group[T]) Lookup(key string, now time.Time, window time.Duration) (*Call[T], bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.calls[key]
	if !ok || now.Sub(c.created) >= window {
		return nil, false
	}
	return c, true
}

// Forget removes key from the group if it still maps to c, allowing a
// fresh call for the key. Settled calls remain readable by their waiters.
func (g *Group[T]) Forget(key string, c *Call[T]) {
	g.mu.Lock()
	if g.calls[key] == c {
		delete(g.calls, key)
	}
	g.mu.Unlock()
}

// Len returns the number of distinct in-flight keys.
func (g *Group[T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// SetCancel installs the cooperative cancellation hook for the call's
// underlying operation.
func (c *Call[T]) SetCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
}

// CancelOp fires the cooperative cancellation hook, if installed. The
// operation must observe the signal itself; nothing is forcibly stopped.
func (c *Call[T]) CancelOp() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Settle records the result and releases all waiters. Only the first
// settle takes effect; it reports whether this call was the one that
// settled.
func (c *Call[T]) Settle(val T, err error) bool {
	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		return false
	}
	c.settled = true
	c.val = val
	c.err = err
	close(c.done)
	c.mu.Unlock()
	return true
}

// Wait blocks until the call settles or ctx is done. Every waiter that
// sees the settled call receives the identical result.
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		val, err := c.val, c.err
		c.mu.Unlock()
		return val, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Waiters returns the number of callers sharing the call.
func (c *Call[T]) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters
}
