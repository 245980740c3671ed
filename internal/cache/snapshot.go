package cache

import "time"

// Snapshot is an exact copy of one slot, including whether it was empty.
type Snapshot struct {
	Key     Key
	Value   any
	Present bool

	fetchedAt   time.Time
	staleAfter  time.Duration
	invalidated bool
}

// Snapshot captures the current state of the slot for key.
func (c *Cache) Snapshot(key Key) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		return Snapshot{Key: key}
	}
	return Snapshot{
		Key:         key,
		Value:       e.value,
		Present:     true,
		fetchedAt:   e.fetchedAt,
		staleAfter:  e.staleAfter,
		invalidated: e.invalidated,
	}
}

// Restore puts the slot back exactly as it was when s was taken. A snapshot
// of an empty slot removes the entry.
func (c *Cache) Restore(s Snapshot) {
	if !s.Present {
		c.Remove(s.Key)
		return
	}

	c.mu.Lock()
	c.entries[s.Key.String()] = &entry{
		key:         s.Key,
		value:       s.Value,
		fetchedAt:   s.fetchedAt,
		staleAfter:  s.staleAfter,
		invalidated: s.invalidated,
		idleSince:   c.now(),
	}
	listeners := c.listenersLocked(s.Key)
	c.mu.Unlock()

	notify(listeners, Event{Type: EventSet, Key: s.Key, Value: s.Value})
}
