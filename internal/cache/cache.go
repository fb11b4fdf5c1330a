// Package cache provides a small TTL cache with get-or-build semantics.
//
// Reads are lock-free. A rebuild runs outside any lock, concurrent callers for
// the same key share one build, and the result is published by replacing the
// entry pointer, so readers see either the previous value or the new one.
package cache

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is a cached value and the time it was loaded.
type Entry[V any] struct {
	Value    V
	LoadedAt time.Time
}

// Valid reports whether the entry is still fresh at now.
// A zero LoadedAt marks a corrupt entry and is never valid.
func (e *Entry[V]) Valid(now time.Time, ttl time.Duration) bool {
	if e == nil || e.LoadedAt.IsZero() {
		return false
	}
	return now.Sub(e.LoadedAt) < ttl
}

// BuildFunc produces a fresh value for a key.
type BuildFunc[V any] func() (V, error)

// TTLCache caches values per string key for a fixed time-to-live.
type TTLCache[V any] struct {
	ttl     time.Duration
	now     func() time.Time
	entries sync.Map // string -> *Entry[V]
	group   singleflight.Group
	gen     atomic.Uint64
	// lastSweep is the UnixNano time expired entries were last removed.
	lastSweep atomic.Int64

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a TTLCache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a cache whose entries expire after ttl.
func New[V any](ttl time.Duration, opts ...Option) *TTLCache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	c := &TTLCache[V]{ttl: ttl, now: o.now}
	c.lastSweep.Store(o.now().UnixNano())
	return c
}

// TTL returns the configured time-to-live.
func (c *TTLCache[V]) TTL() time.Duration { return c.ttl }

// Get returns the cached value for key if present and unexpired. An expired
// entry is removed.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	if e, ok := c.load(key); ok {
		if e.Valid(c.now(), c.ttl) {
			return e.Value, true
		}
		c.entries.CompareAndDelete(key, e)
	}
	var zero V
	return zero, false
}

// Entry returns a copy of the raw entry for key, expired or not.
func (c *TTLCache[V]) Entry(key string) (Entry[V], bool) {
	e, ok := c.load(key)
	if !ok {
		return Entry[V]{}, false
	}
	return *e, true
}

// GetOrBuild returns the cached value for key or builds, stores and returns a
// new one. A failed build is not cached.
func (c *TTLCache[V]) GetOrBuild(key string, build BuildFunc[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	gen := c.gen.Load()
	flightKey := key + "#" + strconv.FormatUint(gen, 10)
	v, err, _ := c.group.Do(flightKey, func() (any, error) {
		// Another flight may have published while this one was queued.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := build()
		if err != nil {
			return v, err
		}
		// An invalidation during the build means the value may be stale.
		if c.gen.Load() == gen {
			c.entries.Store(key, &Entry[V]{Value: v, LoadedAt: c.now()})
			c.sweep()
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Set stores value under key with a fresh timestamp.
func (c *TTLCache[V]) Set(key string, value V) {
	c.entries.Store(key, &Entry[V]{Value: value, LoadedAt: c.now()})
	c.sweep()
}

// sweep removes expired entries, at most once per TTL.
func (c *TTLCache[V]) sweep() {
	now := c.now()
	last := c.lastSweep.Load()
	if now.UnixNano()-last < int64(c.ttl) || !c.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	c.entries.Range(func(k, raw any) bool {
		if e, ok := raw.(*Entry[V]); !ok || !e.Valid(now, c.ttl) {
			c.entries.CompareAndDelete(k, raw)
		}
		return true
	})
}

// Invalidate drops the entry for key.
func (c *TTLCache[V]) Invalidate(key string) {
	c.gen.Add(1)
	c.entries.Delete(key)
}

// InvalidateAll drops every entry.
func (c *TTLCache[V]) InvalidateAll() {
	c.gen.Add(1)
	c.entries.Range(func(k, _ any) bool {
		c.entries.Delete(k)
		return true
	})
}

// Len returns the number of stored entries, including expired ones that have
// not been swept yet.
func (c *TTLCache[V]) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Stats returns hit and miss counts for GetOrBuild.
func (c *TTLCache[V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *TTLCache[V]) load(key string) (*Entry[V], bool) {
	raw, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	e, ok := raw.(*Entry[V])
	if !ok || e == nil {
		// Unreadable entry: treat as a miss and let the next build replace it.
		c.entries.Delete(key)
		return nil, false
	}
	return e, true
}
