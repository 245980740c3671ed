// Package cache provides the keyed in-memory store shared by every reader and
// driver of a session.
//
// The cache:
// 1. Maps typed keys to values with a per-entry freshness window
// 2. Collapses concurrent fetches of the same key into one reader call
// 3. Notifies subscribers when an entry is set, invalidated or removed
// 4. Evicts entries nobody subscribes to once a grace period has passed
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Options configures a Cache.
type Options struct {
	// DefaultStaleAfter is the freshness window used by Set. Zero means
	// entries only go stale through Invalidate.
	DefaultStaleAfter time.Duration

	// GCGrace is how long an entry without subscribers is kept.
	GCGrace time.Duration

	// GCInterval is how often the janitor started by Start runs Collect.
	GCInterval time.Duration

	// Now returns the current time. Tests replace it to drive expiry.
	Now func() time.Time

	Logger  *zap.Logger
	Metrics Metrics
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		DefaultStaleAfter: 30 * time.Second,
		GCGrace:           5 * time.Minute,
		GCInterval:        time.Minute,
		Now:               time.Now,
		Logger:            zap.NewNop(),
		Metrics:           NoopMetrics{},
	}
}

type entry struct {
	key         Key
	value       any
	fetchedAt   time.Time
	staleAfter  time.Duration
	invalidated bool

	// idleSince is the last write or the moment the last subscriber left.
	idleSince time.Time

	revalidating bool
}

func (e *entry) fresh(now time.Time) bool {
	if e.invalidated {
		return false
	}
	return e.staleAfter <= 0 || now.Before(e.fetchedAt.Add(e.staleAfter))
}

// EntryState describes one entry for diagnostics and tests.
type EntryState struct {
	FetchedAt   time.Time
	StaleAfter  time.Duration
	Fresh       bool
	Invalidated bool
	Subscribers int
}

// Cache is safe for concurrent use. Construct it with New and release it with
// Close.
type Cache struct {
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
	subs    map[string]map[uint64]Listener
	global  map[uint64]Listener
	nextID  uint64

	loads singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New creates an empty cache. Zero fields of opts take their defaults.
func New(opts Options) *Cache {
	def := DefaultOptions()
	if opts.GCGrace <= 0 {
		opts.GCGrace = def.GCGrace
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = def.GCInterval
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}
	if opts.Metrics == nil {
		opts.Metrics = def.Metrics
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Cache{
		opts:    opts,
		log:     opts.Logger.Named("cache"),
		entries: make(map[string]*entry),
		subs:    make(map[string]map[uint64]Listener),
		global:  make(map[uint64]Listener),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *Cache) now() time.Time {
	return c.opts.Now()
}

// Get returns the cached value for key without fetching.
func (c *Cache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Lookup is Get with the value asserted to V. A value of another type reports
// false.
func Lookup[V any](c *Cache, key Key) (V, bool) {
	var zero V
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	if v == nil {
		return zero, true
	}
	typed, ok := v.(V)
	return typed, ok
}

// Set replaces the entry for key and marks it fresh. An existing entry keeps
// its freshness window; a new one uses DefaultStaleAfter.
func (c *Cache) Set(key Key, value any) {
	c.mu.Lock()
	staleAfter := c.opts.DefaultStaleAfter
	if e, ok := c.entries[key.String()]; ok {
		staleAfter = e.staleAfter
	}
	c.mu.Unlock()

	c.SetWithTTL(key, value, staleAfter)
}

// SetWithTTL replaces the entry for key with the given freshness window.
func (c *Cache) SetWithTTL(key Key, value any, staleAfter time.Duration) {
	now := c.now()

	c.mu.Lock()
	c.entries[key.String()] = &entry{
		key:        key,
		value:      value,
		fetchedAt:  now,
		staleAfter: staleAfter,
		idleSince:  now,
	}
	listeners := c.listenersLocked(key)
	c.mu.Unlock()

	notify(listeners, Event{Type: EventSet, Key: key, Value: value})
}

// Invalidate marks every entry matching pred as stale without removing it
// and returns how many entries matched. The next FetchOrGet of a matching key
// returns the stale value and revalidates it in the background.
func (c *Cache) Invalidate(pred Predicate) int {
	type pending struct {
		event     Event
		listeners []Listener
	}

	var events []pending

	c.mu.Lock()
	for _, e := range c.entries {
		if !pred(e.key) {
			continue
		}
		e.invalidated = true
		events = append(events, pending{
			event:     Event{Type: EventInvalidated, Key: e.key, Value: e.value},
			listeners: c.listenersLocked(e.key),
		})
	}
	c.mu.Unlock()

	for _, p := range events {
		notify(p.listeners, p.event)
	}

	if len(events) > 0 {
		c.log.Debug("invalidated entries", zap.Int("count", len(events)))
	}
	return len(events)
}

// Remove deletes the entry for key. It reports whether an entry existed.
func (c *Cache) Remove(key Key) bool {
	c.mu.Lock()
	e, ok := c.entries[key.String()]
	if ok {
		delete(c.entries, key.String())
	}
	listeners := c.listenersLocked(key)
	c.mu.Unlock()

	if ok {
		notify(listeners, Event{Type: EventRemoved, Key: key, Value: e.value})
	}
	return ok
}

// State returns the freshness bookkeeping of the entry for key.
func (c *Cache) State(key Key) (EntryState, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		return EntryState{}, false
	}
	return EntryState{
		FetchedAt:   e.fetchedAt,
		StaleAfter:  e.staleAfter,
		Fresh:       e.fresh(now),
		Invalidated: e.invalidated,
		Subscribers: len(c.subs[key.String()]),
	}, true
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the keys of all entries ordered by their encoding.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.key)
	}
	c.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// Collect evicts entries that have had no subscriber for at least GCGrace as
// of now and returns how many were evicted. Entries being revalidated are
// kept.
func (c *Cache) Collect(now time.Time) int {
	var evicted []*entry
	var listeners [][]Listener

	c.mu.Lock()
	for k, e := range c.entries {
		if len(c.subs[k]) > 0 || e.revalidating {
			continue
		}
		if now.Before(e.idleSince.Add(c.opts.GCGrace)) {
			continue
		}
		delete(c.entries, k)
		evicted = append(evicted, e)
		listeners = append(listeners, c.listenersLocked(e.key))
	}
	c.mu.Unlock()

	for i, e := range evicted {
		notify(listeners[i], Event{Type: EventEvicted, Key: e.key, Value: e.value})
	}

	if len(evicted) > 0 {
		c.opts.Metrics.Evict(len(evicted))
		c.log.Debug("collected idle entries", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

// Start runs Collect every GCInterval until ctx is cancelled or the cache is
// closed.
func (c *Cache) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.opts.GCInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				c.Collect(c.now())
			}
		}
	}()
}

// Close stops the janitor and cancels background revalidations, then waits
// for them to return. It is safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
}
