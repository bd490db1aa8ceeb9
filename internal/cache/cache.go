package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNoFetcher = errors.New("cache has no fetcher configured")

// Entry is one cached payload with the time it was written and the identity
// that owns it.
type Entry[T any] struct {
	Payload   T
	WrittenAt time.Time
	Owner     string
}

// IdentitySource returns the identity currently signed in on this client.
type IdentitySource func() string

type Options struct {
	TTL        time.Duration
	MaxEntries int
	// Identity, when set, gates every read: an entry owned by anyone other
	// than the current identity is treated as a miss and dropped.
	Identity IdentitySource
	Now      func() time.Time
}

// TTLCache is an in-memory cache keyed by an identity (user or product id).
// An entry is valid while it is younger than the TTL and still owned by the
// current identity.
type TTLCache[T any] struct {
	mu                sync.Mutex
	ttl               time.Duration
	maxEntries        int
	identity          IdentitySource
	now               func() time.Time
	entries           map[string]Entry[T]
	lastInvalidatedAt time.Time
	observers         map[uint64]func()
	nextObserver      uint64
}

func NewTTLCache[T any](opts Options) *TTLCache[T] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &TTLCache[T]{
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		identity:   opts.Identity,
		now:        now,
		entries:    make(map[string]Entry[T]),
		observers:  make(map[uint64]func()),
	}
}

// Get returns the payload for key when the entry is fresh and owned by the
// current identity; any other entry is cleared.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	e, ok := c.Lookup(key)
	return e.Payload, ok
}

// Lookup is Get returning the whole entry.
func (c *TTLCache[T]) Lookup(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.owned(key)
	if !ok {
		return Entry[T]{}, false
	}
	if c.ttl > 0 && c.now().Sub(e.WrittenAt) >= c.ttl {
		delete(c.entries, key)
		return Entry[T]{}, false
	}
	return e, true
}

// Peek returns an owned entry regardless of its age.
func (c *TTLCache[T]) Peek(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owned(key)
}

func (c *TTLCache[T]) owned(key string) (Entry[T], bool) {
	e, ok := c.entries[key]
	if !ok {
		return Entry[T]{}, false
	}
	if c.identity != nil && c.identity() != e.Owner {
		delete(c.entries, key)
		return Entry[T]{}, false
	}
	return e, true
}

func (c *TTLCache[T]) Set(key string, payload T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry[T]{Payload: payload, WrittenAt: c.now(), Owner: key}
}

// Touch restarts the TTL of an existing entry.
func (c *TTLCache[T]) Touch(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.WrittenAt = c.now()
	c.entries[key] = e
	return true
}

// Delete drops a single entry without broadcasting.
func (c *TTLCache[T]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Invalidate clears every entry, records the invalidation time and notifies
// the registered observers.
func (c *TTLCache[T]) Invalidate() {
	c.mu.Lock()
	c.lastInvalidatedAt = c.now()
	clear(c.entries)
	observers := make([]func(), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

// WasInvalidatedSince reports whether Invalidate ran after t.
func (c *TTLCache[T]) WasInvalidatedSince(t time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastInvalidatedAt.After(t)
}

// OnInvalidate registers fn to run after every Invalidate.
func (c *TTLCache[T]) OnInvalidate(fn func()) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *TTLCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops all entries without recording an invalidation.
func (c *TTLCache[T]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	clear(c.entries)
	return n
}

// Prune removes expired entries, then the oldest ones above MaxEntries.
func (c *TTLCache[T]) Prune() (expired, evicted int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.ttl > 0 {
		for k, e := range c.entries {
			if now.Sub(e.WrittenAt) >= c.ttl {
				delete(c.entries, k)
				expired++
			}
		}
	}

	if c.maxEntries <= 0 || len(c.entries) <= c.maxEntries {
		return expired, 0
	}
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].WrittenAt.Before(c.entries[keys[j]].WrittenAt)
	})
	for _, k := range keys[:len(keys)-c.maxEntries] {
		delete(c.entries, k)
		evicted++
	}
	return expired, evicted
}

// Run prunes the cache every interval until ctx is done.
func (c *TTLCache[T]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Prune()
		case <-ctx.Done():
			return
		}
	}
}
