// Package flight coalesces concurrent calls for the same key and keeps the
// results for a while.
package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"weak"
)

type Cache[K comparable, V any] struct {
	mu sync.Mutex

	// finished holds completed results. Each entry keeps a strong reference
	// until its deadline passes, after which only the weak pointer remains.
	finished map[K]*entry[V]
	pending  map[K]*call[V]

	work func(context.Context, K) (V, error)

	// ttl is the strong-hold duration in nanoseconds. <= 0 means forever.
	ttl atomic.Int64
}

type entry[V any] struct {
	w        weak.Pointer[V]
	strong   *V
	deadline time.Time // zero => forever
}

type call[V any] struct {
	val  V
	err  error
	done chan struct{}
}

func NewCache[K comparable, V any](work func(context.Context, K) (V, error)) *Cache[K, V] {
	c := &Cache[K, V]{
		finished: make(map[K]*entry[V]),
		pending:  make(map[K]*call[V]),
		work:     work,
	}
	c.ttl.Store(int64(time.Hour))
	return c
}

// Expiry sets the strong-hold duration for future results.
// d <= 0 keeps results for the lifetime of the cache.
func (c *Cache[K, V]) Expiry(d time.Duration) {
	c.ttl.Store(int64(max(d, 0)))
}

// Get returns a cached value, joins a call already in flight for k, or runs
// the work function. Errors are never cached. A follower whose leader was
// cancelled retries with its own context.
func (c *Cache[K, V]) Get(ctx context.Context, k K) (V, error) {
	for {
		c.mu.Lock()
		if v, ok := c.lookup(k); ok {
			c.mu.Unlock()
			return v, nil
		}

		if p, ok := c.pending[k]; ok {
			c.mu.Unlock()
			select {
			case <-p.done:
			case <-ctx.Done():
				var zero V
				return zero, ctx.Err()
			}
			if p.err != nil && isCancel(p.err) && ctx.Err() == nil {
				continue
			}
			return p.val, p.err
		}

		p := &call[V]{done: make(chan struct{})}
		c.pending[k] = p
		c.mu.Unlock()
		return c.run(ctx, k, p)
	}
}

// Len reports how many results are still reachable.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.finished {
		if _, ok := c.lookup(k); ok {
			n++
		}
	}
	return n
}

func (c *Cache[K, V]) run(ctx context.Context, k K, p *call[V]) (V, error) {
	p.val, p.err = c.work(ctx, k)

	c.mu.Lock()
	if p.err == nil {
		c.store(k, p.val)
	}
	delete(c.pending, k)
	close(p.done)
	c.mu.Unlock()

	return p.val, p.err
}

// lookup must be called with mu held.
func (c *Cache[K, V]) lookup(k K) (V, bool) {
	var zero V
	e, ok := c.finished[k]
	if !ok {
		return zero, false
	}
	if e.strong != nil && !e.deadline.IsZero() && time.Now().After(e.deadline) {
		e.strong = nil
	}
	vp := e.w.Value()
	if vp == nil {
		delete(c.finished, k)
		return zero, false
	}
	return *vp, true
}

// store must be called with mu held.
func (c *Cache[K, V]) store(k K, val V) {
	// A dedicated heap cell gives the weak pointer a stable address.
	v := new(V)
	*v = val

	e := &entry[V]{w: weak.Make(v), strong: v}
	if d := time.Duration(c.ttl.Load()); d > 0 {
		e.deadline = time.Now().Add(d)
	}
	c.finished[k] = e
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
