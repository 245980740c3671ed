// Package mutate applies optimistic writes through the cache.
//
// A mutation writes the new value into the cache before persisting it, so
// every reader sees the edit at once. If persisting fails the slot is put back
// exactly as it was before the mutation and the error is returned.
package mutate

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/stream-journal/stream/internal/cache"
)

// Options configures a Mutator.
type Options struct {
	// SerializePerKey queues mutations of the same key so that each one
	// snapshots, writes and persists before the next starts. When false,
	// concurrent mutations of one key resolve by completion order.
	SerializePerKey bool

	Logger *zap.Logger
}

// Mutator performs optimistic updates against one cache.
type Mutator struct {
	cache *cache.Cache
	opts  Options
	log   *zap.Logger

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Mutator writing through c.
func New(c *cache.Cache, opts Options) *Mutator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Mutator{
		cache: c,
		opts:  opts,
		log:   opts.Logger.Named("mutate"),
		locks: make(map[string]*keyLock),
	}
}

// PersistFunc writes value to its origin.
type PersistFunc[V any] func(ctx context.Context, value V) error

// Mutate snapshots key, stores value in the cache, then persists it. On
// failure the snapshot is restored (an absent slot is removed again) and the
// persist error is returned wrapped with the key.
func Mutate[V any](ctx context.Context, m *Mutator, key cache.Key, value V, persist PersistFunc[V]) error {
	return m.Apply(ctx, key, value, func(ctx context.Context) error {
		return persist(ctx, value)
	})
}

// Apply is the untyped form of Mutate.
func (m *Mutator) Apply(ctx context.Context, key cache.Key, value any, persist func(ctx context.Context) error) error {
	if m.opts.SerializePerKey {
		unlock := m.lock(key)
		defer unlock()
	}

	snap := m.cache.Snapshot(key)
	m.cache.Set(key, value)

	return m.commit(ctx, snap, persist)
}

// commit persists and rolls back to snap on failure.
func (m *Mutator) commit(ctx context.Context, snap cache.Snapshot, persist func(ctx context.Context) error) error {
	if err := persist(ctx); err != nil {
		m.cache.Restore(snap)
		m.log.Warn("persist failed, rolled back",
			zap.String("key", cache.Describe(snap.Key)), zap.Error(err))
		return fmt.Errorf("update %s: %w", cache.Describe(snap.Key), err)
	}
	return nil
}

// lock acquires the per-key lock and returns its release function.
func (m *Mutator) lock(key cache.Key) func() {
	k := key.String()

	m.mu.Lock()
	l, ok := m.locks[k]
	if !ok {
		l = &keyLock{}
		m.locks[k] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, k)
		}
		m.mu.Unlock()
	}
}
