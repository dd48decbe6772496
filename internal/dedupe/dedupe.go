// Package dedupe collapses concurrent identical requests into a single
// upstream call. The first caller for a key becomes the leader and runs the
// compute function; everyone else waits for the leader's result.
package dedupe

import (
	"context"
	"sync"
)

// call is one in-flight computation. It lives from leader registration until
// settlement, after which all waiters observe the same value and error.
type call struct {
	done    chan struct{}
	value   any
	err     error
	waiters int
}

// Group deduplicates in-flight calls by key. Safe for concurrent use.
type Group struct {
	mu       sync.Mutex
	inflight map[string]*call
}

// New creates an empty Group.
func New() *Group {
	return &Group{inflight: make(map[string]*call)}
}

// Do invokes fn for key, collapsing concurrent callers: while a call for the
// same key is in flight, additional callers wait for it instead of invoking
// fn again, and every caller receives the identical value and error.
//
// The leader runs fn to completion even if its own context is cancelled
// mid-flight; waiters whose context expires detach and return the context
// error without disturbing the shared call. Leader and waiter both report
// via the leader return whether they ran fn.
func (g *Group) Do(ctx context.Context, key string, fn func() (any, error)) (value any, leader bool, err error) {
	g.mu.Lock()
	if c, ok := g.inflight[key]; ok {
		c.waiters++
		g.mu.Unlock()

		select {
		case <-c.done:
			return c.value, false, c.err
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	c := &call{done: make(chan struct{})}
	g.inflight[key] = c
	g.mu.Unlock()

	c.value, c.err = fn()

	g.mu.Lock()
	delete(g.inflight, key)
	g.mu.Unlock()
	close(c.done)

	return c.value, true, c.err
}

// InFlight returns the number of keys with an active call, for the status
// endpoint.
func (g *Group) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

// Waiters returns how many callers are attached to the in-flight call for
// key, not counting the leader. Returns 0 when no call is in flight.
func (g *Group) Waiters(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.inflight[key]; ok {
		return c.waiters
	}
	return 0
}
