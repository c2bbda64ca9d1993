package cache

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/objectfs/tiercache/pkg/errors"
)

// Fetcher loads the authoritative value for a key.
type Fetcher[T any] func(ctx context.Context) (T, error)

// flight is the shared state of the callers attached to one key.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Coalescer ensures at most one in-flight fetch per key. Concurrent
// callers for the same key share the first caller's result.
type Coalescer[T any] struct {
	group singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
	pending map[string]int
}

// NewCoalescer creates an empty coalescer.
func NewCoalescer[T any]() *Coalescer[T] {
	return &Coalescer[T]{
		flights: make(map[string]*flight),
		pending: make(map[string]int),
	}
}

// Do runs fetch for key unless a fetch for key is already in flight, in
// which case it waits for that one. shared reports whether the result was
// delivered to more than one caller.
//
// A caller whose ctx ends stops waiting and gets ctx.Err(). The fetch runs
// detached from any single caller's cancellation, keeping the values of
// the ctx that started it, and is canceled only once every caller waiting
// on it has left.
func (c *Coalescer[T]) Do(ctx context.Context, key string, fetch Fetcher[T]) (value T, shared bool, err error) {
	if err := ctx.Err(); err != nil {
		return value, false, err
	}

	f := c.attach(ctx, key)
	defer c.detach(key, f)

	ch := c.group.DoChan(key, func() (interface{}, error) {
		c.mu.Lock()
		c.pending[key]++
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			if c.pending[key]--; c.pending[key] <= 0 {
				delete(c.pending, key)
			}
			c.mu.Unlock()
		}()

		return c.run(f.ctx, key, fetch)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return value, res.Shared, res.Err
		}
		value, _ = res.Val.(T)
		return value, res.Shared, nil
	case <-ctx.Done():
		return value, false, ctx.Err()
	}
}

// attach registers a caller on the flight for key, creating it if needed.
func (c *Coalescer[T]) attach(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

// detach releases a caller. The last one out cancels the fetch and makes
// the group forget it, so later callers start a new fetch instead of
// joining one that is being torn down.
func (c *Coalescer[T]) detach(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
		c.group.Forget(key)
	}
}

// run invokes fetch, turning a panic into an error so waiting callers
// are released.
func (c *Coalescer[T]) run(ctx context.Context, key string, fetch Fetcher[T]) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewError(errors.ErrCodePanicRecovered, fmt.Sprintf("fetch panicked: %v", r)).
				WithComponent("coalescer").
				WithContext("key", key).
				WithDetail("stack", string(debug.Stack()))
		}
	}()

	value, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// IsPending reports whether a fetch for key is executing.
func (c *Coalescer[T]) IsPending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[key] > 0
}

// Pending returns the number of keys with a fetch in flight.
func (c *Coalescer[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
