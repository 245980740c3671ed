package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Reader produces the value for one key from its origin.
type Reader[V any] func(ctx context.Context) (V, error)

// FetchOrGet returns the cached value for key, calling reader only when the
// key is absent.
//
// Concurrent calls for the same absent key share a single reader call. The
// reader runs on the cache's own context, so a caller whose ctx is cancelled
// returns ctx.Err() without failing the others. A failed reader leaves any
// existing entry untouched and the next call tries again.
//
// A present entry is returned immediately. If it was invalidated, or it is
// past staleAfter while someone subscribes to it, one background revalidation
// replaces it when the reader succeeds.
func FetchOrGet[V any](ctx context.Context, c *Cache, key Key, reader Reader[V], staleAfter time.Duration) (V, error) {
	var zero V

	v, err := c.fetch(ctx, key, func(ctx context.Context) (any, error) {
		return reader(ctx)
	}, staleAfter)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}

	typed, ok := v.(V)
	if !ok {
		return zero, fmt.Errorf("cache entry %s holds %T, not %T", key.Namespace(), v, zero)
	}
	return typed, nil
}

// Share runs fn once for every concurrent caller passing the same id and
// hands each of them its result. Nothing is stored: fn fills the slots it
// covers itself, typically a reader whose result spans several keys. Like a
// FetchOrGet reader, fn runs on the cache's own context.
func Share[V any](ctx context.Context, c *Cache, id string, fn Reader[V]) (V, error) {
	var zero V

	ch := c.loads.DoChan(sharePrefix+id, func() (any, error) {
		return fn(c.ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// sharePrefix keeps Share ids apart from key strings, which start with a
// namespace.
const sharePrefix = "share:"

func (c *Cache) fetch(ctx context.Context, key Key, read func(context.Context) (any, error), staleAfter time.Duration) (any, error) {
	k := key.String()
	ns := key.Namespace()

	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		value := e.value
		revalidate := !e.revalidating && (e.invalidated || (!e.fresh(c.now()) && len(c.subs[k]) > 0))
		if revalidate {
			e.revalidating = true
		}
		c.mu.Unlock()

		c.opts.Metrics.Hit(ns)
		if revalidate {
			c.revalidate(key, read, staleAfter)
		}
		return value, nil
	}
	c.mu.Unlock()

	c.opts.Metrics.Miss(ns)

	ch := c.loads.DoChan(k, func() (any, error) {
		return c.load(key, read, staleAfter)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// load runs inside the singleflight group for key.
func (c *Cache) load(key Key, read func(context.Context) (any, error), staleAfter time.Duration) (any, error) {
	// A load that finished between our miss and joining the group already
	// stored the value.
	c.mu.Lock()
	if e, ok := c.entries[key.String()]; ok && !e.invalidated {
		value := e.value
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()

	value, err := read(c.ctx)
	c.opts.Metrics.Fetch(key.Namespace(), err)
	if err != nil {
		c.log.Debug("fetch failed", zap.String("namespace", key.Namespace()), zap.Error(err))
		return nil, err
	}

	c.SetWithTTL(key, value, staleAfter)
	return value, nil
}

func (c *Cache) revalidate(key Key, read func(context.Context) (any, error), staleAfter time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		value, err := read(c.ctx)
		c.opts.Metrics.Fetch(key.Namespace(), err)
		if err != nil {
			c.mu.Lock()
			if e, ok := c.entries[key.String()]; ok {
				e.revalidating = false
			}
			c.mu.Unlock()

			c.log.Warn("revalidation failed, keeping stale entry",
				zap.String("namespace", key.Namespace()), zap.Error(err))
			return
		}

		c.SetWithTTL(key, value, staleAfter)
	}()
}
