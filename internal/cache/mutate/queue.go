package mutate

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stream-journal/stream/internal/cache"
)

// ErrQueueClosed is returned by Queue after Close.
var ErrQueueClosed = errors.New("save queue closed")

// DefaultDelay is the debounce delay used when none is configured.
const DefaultDelay = 500 * time.Millisecond

// SaveFunc persists the latest value queued for key.
type SaveFunc[V any] func(ctx context.Context, key cache.Key, value V) error

// QueueConfig configures a SaveQueue.
type QueueConfig struct {
	// Delay is how long a key must go without edits before it is saved.
	Delay time.Duration

	// OnError receives persist failures of timer-driven saves, after the
	// cache has been rolled back.
	OnError func(key cache.Key, err error)
}

// SaveQueue coalesces rapid edits of the same key. Every edit is visible in
// the cache immediately; only the most recent value is persisted once the key
// has been quiet for Delay. Saves of one key run in the order their batches
// were started. A failed save rolls the slot back to the last value known to
// be persisted, which is what it held before the first edit of the batch
// unless an earlier batch of the same key has saved since.
type SaveQueue[V any] struct {
	m      *Mutator
	save   SaveFunc[V]
	config QueueConfig

	mu      sync.Mutex
	pending map[string]*pendingSave[V]
	saving  map[string][]*pendingSave[V]
	closed  bool

	wg sync.WaitGroup
}

type pendingSave[V any] struct {
	key   cache.Key
	value V
	snap  cache.Snapshot
	timer *time.Timer
	gen   uint64

	// after is closed once the previous save of the same key resolved.
	after chan struct{}
	done  chan struct{}
}

// NewSaveQueue creates a queue persisting through save with m's rollback
// behaviour.
func NewSaveQueue[V any](m *Mutator, save SaveFunc[V], config QueueConfig) *SaveQueue[V] {
	if config.Delay <= 0 {
		config.Delay = DefaultDelay
	}
	return &SaveQueue[V]{
		m:       m,
		save:    save,
		config:  config,
		pending: make(map[string]*pendingSave[V]),
		saving:  make(map[string][]*pendingSave[V]),
	}
}

// Queue writes value to the cache and (re)schedules its save.
func (q *SaveQueue[V]) Queue(key cache.Key, value V) error {
	k := key.String()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	p, ok := q.pending[k]
	if ok {
		p.timer.Stop()
		p.value = value
		p.gen++
	} else {
		// While earlier batches are saving, the cache shows their optimistic
		// values; the origin holds what the newest of them would roll back to.
		var snap cache.Snapshot
		if s := q.saving[k]; len(s) > 0 {
			snap = s[len(s)-1].snap
		} else {
			snap = q.m.cache.Snapshot(key)
		}
		p = &pendingSave[V]{key: key, value: value, snap: snap}
		q.pending[k] = p
	}
	gen := p.gen
	p.timer = time.AfterFunc(q.config.Delay, func() {
		q.fire(k, gen)
	})
	q.mu.Unlock()

	q.m.cache.Set(key, value)
	return nil
}

// Pending returns the number of keys waiting to be saved.
func (q *SaveQueue[V]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *SaveQueue[V]) fire(k string, gen uint64) {
	q.mu.Lock()
	p, ok := q.pending[k]
	if !ok || p.gen != gen {
		q.mu.Unlock()
		return
	}
	q.startLocked(k, p)
	q.wg.Add(1)
	q.mu.Unlock()

	defer q.wg.Done()

	if err := q.persist(context.Background(), p); err != nil && q.config.OnError != nil {
		q.config.OnError(p.key, err)
	}
}

// startLocked moves p from pending to the end of the key's save chain.
func (q *SaveQueue[V]) startLocked(k string, p *pendingSave[V]) {
	delete(q.pending, k)
	if s := q.saving[k]; len(s) > 0 {
		p.after = s[len(s)-1].done
	}
	p.done = make(chan struct{})
	q.saving[k] = append(q.saving[k], p)
}

// persist saves p once the previous save of its key resolved. On success
// every later batch of the key rolls back to p's value from then on. On
// failure the cache is rolled back unless a newer batch is pending or
// saving.
func (q *SaveQueue[V]) persist(ctx context.Context, p *pendingSave[V]) error {
	k := p.key.String()

	if p.after != nil {
		<-p.after
	}

	err := q.saveLocked(ctx, p)

	q.mu.Lock()
	rest := q.saving[k][1:]
	if len(rest) == 0 {
		delete(q.saving, k)
	} else {
		q.saving[k] = rest
	}
	next, pending := q.pending[k]
	if err == nil {
		saved := q.m.cache.Snapshot(p.key)
		saved.Value, saved.Present = p.value, true
		for _, later := range rest {
			later.snap = saved
		}
		if pending {
			next.snap = saved
		}
	}
	superseded := len(rest) > 0 || pending
	close(p.done)
	q.mu.Unlock()

	if err == nil {
		return nil
	}
	if superseded {
		q.m.log.Warn("save failed, newer edit pending",
			zap.String("key", cache.Describe(p.key)), zap.Error(err))
		return err
	}
	return q.m.commit(ctx, p.snap, func(context.Context) error { return err })
}

// saveLocked runs the save function, holding the mutator's key lock when
// mutations are serialized per key.
func (q *SaveQueue[V]) saveLocked(ctx context.Context, p *pendingSave[V]) error {
	if q.m.opts.SerializePerKey {
		unlock := q.m.lock(p.key)
		defer unlock()
	}
	return q.save(ctx, p.key, p.value)
}

// Flush saves every pending key now and returns the joined errors.
func (q *SaveQueue[V]) Flush(ctx context.Context) error {
	q.mu.Lock()
	batch := make([]*pendingSave[V], 0, len(q.pending))
	for k, p := range q.pending {
		p.timer.Stop()
		q.startLocked(k, p)
		batch = append(batch, p)
	}
	q.mu.Unlock()

	var errs []error
	for _, p := range batch {
		if err := q.persist(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close rejects further edits, flushes what is pending and waits for
// timer-driven saves already running.
func (q *SaveQueue[V]) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	err := q.Flush(ctx)
	q.wg.Wait()
	return err
}
