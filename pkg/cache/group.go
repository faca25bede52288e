package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Event identifies how a call to Do was satisfied.
type Event string

// Cache events.
const (
	// EventHit means a stored, unexpired value was returned.
	EventHit Event = "hit"
	// EventMiss means the call started a new flight.
	EventMiss Event = "miss"
	// EventShared means the call joined a flight already in progress.
	EventShared Event = "shared"
	// EventExpired means a stored value was found past its expiry and dropped.
	EventExpired Event = "expired"
)

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Shared  int64 `json:"shared"`
	Expired int64 `json:"expired"`
	Entries int   `json:"entries"`
}

// Option configures a Group.
type Option func(*options)

type options struct {
	now     func() time.Time
	observe func(hash string, event Event)
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithObserver registers a callback invoked for every cache event.
// The callback runs with no locks held.
func WithObserver(fn func(hash string, event Event)) Option {
	return func(o *options) {
		o.observe = fn
	}
}

// entry is either pending (done open) or ready (done closed, stored == true).
type entry[V any] struct {
	hash      string
	done      chan struct{}
	val       V
	err       error
	stored    bool
	expiresAt time.Time
}

// Group is a keyed, TTL-based, single-flight cache.
//
// A key is either pending, while exactly one call for it is in flight, or
// ready, holding a successful result until its expiry. Concurrent callers of
// a pending key wait for and receive the identical result. Failed flights are
// shared with their waiters but never stored. Every key belongs to a hash so
// all state for one operation can be purged at once.
type Group[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	byHash  map[string]map[string]struct{}
	stats   Stats
	opts    options
}

// New creates an empty Group.
func New[V any](opts ...Option) *Group[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Group[V]{
		entries: make(map[string]*entry[V]),
		byHash:  make(map[string]map[string]struct{}),
		opts:    o,
	}
}

// Do returns the value for key, calling fn at most once per outstanding key.
//
// With ttl > 0 a successful result is reused until ttl has elapsed since it
// resolved. With ttl == 0 nothing is stored but concurrent callers still
// share one flight. fn runs detached from ctx cancellation so that one
// caller giving up does not fail the others; a caller whose ctx ends stops
// waiting and gets ctx.Err().
func (g *Group[V]) Do(ctx context.Context, hash, key string, ttl time.Duration, fn func(context.Context) (V, error)) (V, error) {
	g.mu.Lock()
	expired := false
	if e, ok := g.entries[key]; ok {
		if !e.stored {
			g.stats.Shared++
			g.mu.Unlock()
			g.emit(hash, EventShared)
			return g.wait(ctx, e)
		}
		if g.opts.now().Before(e.expiresAt) {
			g.stats.Hits++
			g.mu.Unlock()
			g.emit(hash, EventHit)
			return e.val, nil
		}
		g.stats.Expired++
		g.removeLocked(key, e)
		expired = true
	}

	e := &entry[V]{hash: hash, done: make(chan struct{})}
	g.entries[key] = e
	keys := g.byHash[hash]
	if keys == nil {
		keys = make(map[string]struct{})
		g.byHash[hash] = keys
	}
	keys[key] = struct{}{}
	g.stats.Misses++
	g.mu.Unlock()

	if expired {
		g.emit(hash, EventExpired)
	}
	g.emit(hash, EventMiss)

	go g.run(context.WithoutCancel(ctx), key, ttl, e, fn)

	return g.wait(ctx, e)
}

func (g *Group[V]) run(ctx context.Context, key string, ttl time.Duration, e *entry[V], fn func(context.Context) (V, error)) {
	val, err := call(ctx, fn)

	g.mu.Lock()
	e.val, e.err = val, err
	if g.entries[key] == e {
		if err == nil && ttl > 0 {
			e.stored = true
			e.expiresAt = g.opts.now().Add(ttl)
		} else {
			g.removeLocked(key, e)
		}
	}
	g.mu.Unlock()

	close(e.done)
}

func call[V any](ctx context.Context, fn func(context.Context) (V, error)) (val V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache: flight panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (g *Group[V]) wait(ctx context.Context, e *entry[V]) (V, error) {
	select {
	case <-e.done:
		return e.val, e.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Purge drops every ready and pending entry belonging to hash. Flights in
// progress still deliver their result to current waiters but it is not
// stored.
func (g *Group[V]) Purge(hash string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys := g.byHash[hash]
	for key := range keys {
		delete(g.entries, key)
	}
	delete(g.byHash, hash)
	return len(keys)
}

// PurgeAll drops all entries.
func (g *Group[V]) PurgeAll() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.entries)
	g.entries = make(map[string]*entry[V])
	g.byHash = make(map[string]map[string]struct{})
	return n
}

// Len returns the number of pending and ready entries.
func (g *Group[V]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// LenHash returns the number of entries belonging to hash.
func (g *Group[V]) LenHash(hash string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.byHash[hash])
}

// Stats returns a snapshot of the counters.
func (g *Group[V]) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	s.Entries = len(g.entries)
	return s
}

func (g *Group[V]) removeLocked(key string, e *entry[V]) {
	delete(g.entries, key)
	if keys := g.byHash[e.hash]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(g.byHash, e.hash)
		}
	}
}

func (g *Group[V]) emit(hash string, event Event) {
	if g.opts.observe != nil {
		g.opts.observe(hash, event)
	}
}

// Sweep removes ready entries whose ttl has elapsed and returns how many
// were dropped. Expired entries are otherwise only replaced on next access.
func (g *Group[V]) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.opts.now()
	n := 0
	for key, e := range g.entries {
		if e.stored && !now.Before(e.expiresAt) {
			g.removeLocked(key, e)
			n++
		}
	}
	g.stats.Expired += int64(n)
	return n
}
