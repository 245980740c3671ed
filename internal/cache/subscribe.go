package cache

import "sync"

// EventType identifies what happened to an entry.
type EventType int

const (
	EventSet EventType = iota + 1
	EventInvalidated
	EventRemoved
	EventEvicted
)

func (t EventType) String() string {
	switch t {
	case EventSet:
		return "set"
	case EventInvalidated:
		return "invalidated"
	case EventRemoved:
		return "removed"
	case EventEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners after the cache lock is released.
type Event struct {
	Type  EventType
	Key   Key
	Value any
}

// Listener receives cache events. It must not block for long; it runs on
// the goroutine that changed the cache.
type Listener func(Event)

// Subscribe registers fn for events on key and returns the function that
// unregisters it. An entry with at least one subscriber is never collected.
// Subscribing to an absent key is allowed.
func (c *Cache) Subscribe(key Key, fn Listener) (unsubscribe func()) {
	k := key.String()

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.subs[k] == nil {
		c.subs[k] = make(map[uint64]Listener)
	}
	c.subs[k][id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			delete(c.subs[k], id)
			if len(c.subs[k]) > 0 {
				return
			}
			delete(c.subs, k)
			if e, ok := c.entries[k]; ok {
				e.idleSince = c.now()
			}
		})
	}
}

// SubscribeAll registers fn for events on every key. Global subscribers do
// not keep entries alive.
func (c *Cache) SubscribeAll(fn Listener) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.global[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.global, id)
			c.mu.Unlock()
		})
	}
}

// listenersLocked snapshots the listeners interested in key. c.mu must be
// held.
func (c *Cache) listenersLocked(key Key) []Listener {
	subs := c.subs[key.String()]
	if len(subs) == 0 && len(c.global) == 0 {
		return nil
	}

	out := make([]Listener, 0, len(subs)+len(c.global))
	for _, fn := range subs {
		out = append(out, fn)
	}
	for _, fn := range c.global {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []Listener, ev Event) {
	for _, fn := range listeners {
		fn(ev)
	}
}
