package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Outcome says how a Coalescer call was served.
type Outcome int

const (
	// Fresh: this caller ran the function.
	Fresh Outcome = iota
	// Shared: this caller joined a call already in flight.
	Shared
	// Cached: a completed result within the TTL was reused.
	Cached
	// Duplicate: rejected as a resubmission inside the duplicate window.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Fresh:
		return "fresh"
	case Shared:
		return "shared"
	case Cached:
		return "cached"
	case Duplicate:
		return "duplicate"
	}
	return "unknown"
}

type coalesceEntry[V any] struct {
	started time.Time
	done    bool
	result  V
	err     error
}

// Coalescer runs at most one call per key within its TTL. Callers arriving
// within DuplicateWindow of the first submission are rejected; later callers
// join the in-flight call or reuse its result.
//
// The call runs on the first caller's context with its cancellation and
// deadline removed, so fn must bound itself. Each caller stops waiting when
// its own context is done while the call carries on for the others. Results that end in a context error are not
// kept.
type Coalescer[V any] struct {
	mu      sync.Mutex
	group   singleflight.Group
	ttl     time.Duration
	dup     time.Duration
	now     func() time.Time
	entries map[string]*coalesceEntry[V]
}

// NewCoalescer creates a coalescer. dupWindow 0 disables rejection; ttl 0
// keeps results only for callers already joined.
func NewCoalescer[V any](ttl, dupWindow time.Duration, now func() time.Time) *Coalescer[V] {
	if now == nil {
		now = time.Now
	}
	return &Coalescer[V]{ttl: ttl, dup: dupWindow, now: now, entries: make(map[string]*coalesceEntry[V])}
}

// Do serves key, calling fn only when no fresh entry exists.
func (c *Coalescer[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, Outcome, error) {
	var zero V

	c.mu.Lock()
	now := c.now()
	c.evictLocked(now)
	e := c.entries[key]
	if e != nil {
		if c.dup > 0 && now.Sub(e.started) < c.dup {
			c.mu.Unlock()
			return zero, Duplicate, nil
		}
		if e.done {
			c.mu.Unlock()
			return e.result, Cached, e.err
		}
	}
	first := e == nil
	if first {
		if err := ctx.Err(); err != nil {
			c.mu.Unlock()
			return zero, Fresh, err
		}
		c.entries[key] = &coalesceEntry[V]{started: now}
	}
	c.mu.Unlock()

	flight := context.WithoutCancel(ctx)
	ran := false
	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.Lock()
		cur := c.entries[key]
		if cur != nil && cur.done {
			c.mu.Unlock()
			return cur.result, cur.err
		}
		c.mu.Unlock()

		ran = true
		res, err := fn(flight)

		c.mu.Lock()
		if cur == nil {
			cur = &coalesceEntry[V]{started: c.now()}
		}
		if isContextError(err) {
			delete(c.entries, key)
		} else {
			cur.done, cur.result, cur.err = true, res, err
			c.entries[key] = cur
		}
		c.mu.Unlock()
		return res, err
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		if first {
			return zero, Fresh, ctx.Err()
		}
		return zero, Shared, ctx.Err()
	}
	res, _ := r.Val.(V)
	switch {
	case ran:
		return res, Fresh, r.Err
	case r.Shared:
		return res, Shared, r.Err
	default:
		return res, Cached, r.Err
	}
}

func (c *Coalescer[V]) evictLocked(now time.Time) {
	for k, e := range c.entries {
		if e.done && (c.ttl <= 0 || now.Sub(e.started) >= c.ttl) {
			delete(c.entries, k)
		}
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
